package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cwbudde/descent/internal/server"
	"github.com/cwbudde/descent/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Starts an HTTP server that runs optimization jobs in the background.

  POST /api/v1/jobs               submit a job (JSON job config)
  GET  /api/v1/jobs               list jobs
  GET  /api/v1/jobs/{id}/status   job status
  GET  /api/v1/jobs/{id}/stream   progress as server-sent events
  POST /api/v1/jobs/{id}/cancel   cancel a job
  GET  /metrics                   Prometheus metrics

Checkpoints and traces are written under --data-dir.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "How long to wait for jobs to stop on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	checkpointStore, err := store.NewFSStore(dataDir())
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	srv := server.NewServer(viper.GetString("addr"), checkpointStore, checkpointStore.BaseDir())

	ctx, stop := signalContext()
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("shutdown-timeout"))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
