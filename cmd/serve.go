package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/server"
	"github.com/cwbudde/fftune/internal/store"
)

var (
	serveAddr    string
	serveConfig  string
	serveDataDir string
	serveStore   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Serves the calibration job API. POST /api/v1/jobs accepts a YAML or JSON
config; progress streams from /api/v1/jobs/<id>/stream after every run.
The --config file supplies defaults for requests without a body.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "YAML config used as request defaults")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Directory for checkpoints, traces and artifacts")
	serveCmd.Flags().StringVar(&serveStore, "store", "fs", "Checkpoint backend: fs or sqlite")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	defaults := config.Default()
	if serveConfig != "" {
		loaded, err := config.LoadConfig(serveConfig)
		if err != nil {
			return err
		}
		defaults = loaded
	}
	if serveConfig == "" || cmd.Flags().Changed("data-dir") {
		defaults.DataDir = serveDataDir
	}
	if serveConfig == "" || cmd.Flags().Changed("store") {
		defaults.Store = serveStore
	}

	st, err := store.NewStore(defaults.Store, defaults.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.CloseIfSupported(st)

	srv := server.NewServer(serveAddr, st, defaults)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
