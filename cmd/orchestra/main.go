// Command orchestra is the CLI surface for the workflow engine (SPEC_FULL
// §6 "Engine-facing API"), grounded on the teacher's cmd/main root command:
// a cobra.Command tree wired up in init(), config/logging/telemetry
// initialized via cobra.OnInitialize hooks, and a main() that maps the
// returned error to an exit code.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orchestra/internal/config"
	"orchestra/internal/logging"
)

var (
	cfgFile      string
	enableOTEL   bool
	otelEndpoint string
	debugMode    bool

	rootCmd = &cobra.Command{
		Use:   "orchestra",
		Short: "Orchestra - event-driven workflow engine",
		Long:  "Orchestra runs Mistral-shaped workflow specs (direct and reverse) over a SQLite execution store, dispatched through NATS JetStream.",
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./orchestra.yaml or ~/.config/orchestra/orchestra.yaml)")
	rootCmd.PersistentFlags().BoolVar(&enableOTEL, "enable-telemetry", false, "enable OpenTelemetry tracing and metrics")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP endpoint override")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging (overrides ORCHESTRA_DEBUG)")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(rerunCmd)
	rootCmd.AddCommand(specCmd)
	rootCmd.AddCommand(serveCmd)

	specCmd.AddCommand(specValidateCmd)
	specCmd.AddCommand(specLoadCmd)

	startCmd.Flags().String("input", "", "JSON input for the workflow execution")
	startCmd.Flags().String("namespace", "", "namespace to start the execution in (default: config namespace)")
	startCmd.Flags().Int64("version", 0, "spec version to start (default: latest)")

	serveCmd.Flags().Int("workers", 0, "dispatcher worker pool size (default: config)")
}

func initConfig() {
	if err := config.InitViper(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}
}

func initLogging() {
	cfg, err := config.Load()
	if err != nil {
		logging.Initialize(false)
		return
	}
	logging.Initialize(cfg.Debug)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
