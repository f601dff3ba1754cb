// Package config loads orchestra's settings from defaults, a config file,
// and environment variables, in that increasing order of priority, grounded on
// the teacher's internal/config.InitViper/Load pair.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of settings the engine, dispatcher, delay worker,
// and CLI read at startup.
type Config struct {
	DatabaseURL string
	Namespace   string
	Debug       bool
	LogLevel    string

	NATS NATSConfig

	DelayPollInterval time.Duration

	Telemetry TelemetryConfig
}

// NATSConfig controls the dispatcher's event transport.
type NATSConfig struct {
	Enabled        bool
	URL            string
	Stream         string
	SubjectPrefix  string
	ConsumerName   string
	Embedded       bool
	WorkerPoolSize int
}

// TelemetryConfig controls OpenTelemetry export (SPEC_FULL §7.1).
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	SampleRate   float64
}

// InitViper wires up config file discovery: an explicit path if cfgFile is
// non-empty, else ./orchestra.yaml in the working directory, else
// ~/.config/orchestra/orchestra.yaml. Call this once before Load.
func InitViper(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if cwd, err := os.Getwd(); err == nil {
			if _, err := os.Stat(filepath.Join(cwd, "orchestra.yaml")); err == nil {
				viper.AddConfigPath(cwd)
			}
		}
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "orchestra"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("orchestra")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "config: using config file %s\n", viper.ConfigFileUsed())
	}

	// Environment variables always win over the config file.
	viper.AutomaticEnv()
	bindEnvVars()

	return nil
}

func bindEnvVars() {
	_ = viper.BindEnv("database_url", "ORCHESTRA_DATABASE_URL")
	_ = viper.BindEnv("namespace", "ORCHESTRA_NAMESPACE")
	_ = viper.BindEnv("debug", "ORCHESTRA_DEBUG")
	_ = viper.BindEnv("log_level", "ORCHESTRA_LOG_LEVEL")
	_ = viper.BindEnv("delay_poll_interval", "ORCHESTRA_DELAY_POLL_INTERVAL")

	_ = viper.BindEnv("nats.enabled", "ORCHESTRA_NATS_ENABLED")
	_ = viper.BindEnv("nats.url", "ORCHESTRA_NATS_URL")
	_ = viper.BindEnv("nats.stream", "ORCHESTRA_NATS_STREAM")
	_ = viper.BindEnv("nats.subject_prefix", "ORCHESTRA_NATS_SUBJECT_PREFIX")
	_ = viper.BindEnv("nats.consumer_name", "ORCHESTRA_NATS_CONSUMER")
	_ = viper.BindEnv("nats.embedded", "ORCHESTRA_NATS_EMBEDDED")
	_ = viper.BindEnv("nats.worker_pool_size", "ORCHESTRA_NATS_WORKER_POOL_SIZE")

	_ = viper.BindEnv("telemetry.enabled", "ORCHESTRA_TELEMETRY_ENABLED")
	_ = viper.BindEnv("telemetry.otlp_endpoint", "ORCHESTRA_OTEL_ENDPOINT")
	_ = viper.BindEnv("telemetry.service_name", "ORCHESTRA_SERVICE_NAME")
	_ = viper.BindEnv("telemetry.environment", "ORCHESTRA_ENVIRONMENT")
	_ = viper.BindEnv("telemetry.sample_rate", "ORCHESTRA_TELEMETRY_SAMPLE_RATE")
}

// Load reads the bound viper keys into a Config, applying defaults for
// anything left unset.
func Load() (*Config, error) {
	viper.SetDefault("database_url", "orchestra.db")
	viper.SetDefault("namespace", "default")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("delay_poll_interval", "1s")

	viper.SetDefault("nats.enabled", true)
	viper.SetDefault("nats.url", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.stream", "WORKFLOW_EVENTS")
	viper.SetDefault("nats.subject_prefix", "wf.events")
	viper.SetDefault("nats.consumer_name", "orchestra-dispatcher")
	viper.SetDefault("nats.embedded", true)
	viper.SetDefault("nats.worker_pool_size", 10)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "orchestra")
	viper.SetDefault("telemetry.environment", "development")
	viper.SetDefault("telemetry.sample_rate", 1.0)

	pollInterval, err := time.ParseDuration(viper.GetString("delay_poll_interval"))
	if err != nil {
		pollInterval = time.Second
	}

	cfg := &Config{
		DatabaseURL:       viper.GetString("database_url"),
		Namespace:         viper.GetString("namespace"),
		Debug:             viper.GetBool("debug"),
		LogLevel:          viper.GetString("log_level"),
		DelayPollInterval: pollInterval,
		NATS: NATSConfig{
			Enabled:        viper.GetBool("nats.enabled"),
			URL:            viper.GetString("nats.url"),
			Stream:         viper.GetString("nats.stream"),
			SubjectPrefix:  viper.GetString("nats.subject_prefix"),
			ConsumerName:   viper.GetString("nats.consumer_name"),
			Embedded:       viper.GetBool("nats.embedded"),
			WorkerPoolSize: viper.GetInt("nats.worker_pool_size"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      viper.GetBool("telemetry.enabled"),
			OTLPEndpoint: viper.GetString("telemetry.otlp_endpoint"),
			ServiceName:  viper.GetString("telemetry.service_name"),
			Environment:  viper.GetString("telemetry.environment"),
			SampleRate:   viper.GetFloat64("telemetry.sample_rate"),
		},
	}

	return cfg, nil
}
