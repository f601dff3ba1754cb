package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher and delay worker as a long-lived server",
	Long:  "Starts the NATS-backed dispatcher and the delayed-call poller, and blocks until interrupted.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, natsEngine, delayWorker, err := newServerRuntime(ctx, workers)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer natsEngine.Close()

	if err := rt.dsp.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer rt.dsp.Stop()

	if err := delayWorker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start delay worker: %w", err)
	}
	defer delayWorker.Stop()

	fmt.Printf("orchestra serving on namespace %q (database=%s)\n", rt.cfg.Namespace, rt.cfg.DatabaseURL)
	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}
