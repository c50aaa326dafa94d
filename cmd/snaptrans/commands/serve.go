package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snaptrans/snaptrans/internal/api"
	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/coordinator"
	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, logger, err := loadConfig("snaptrans-api")
	if err != nil {
		return err
	}

	b, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	defer b.bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := bus.NewRegistry()
	recognitionQueue := queue.New(job.QueueRecognition, b.store, logger)
	coord := coordinator.New(recognitionQueue, b.store, registry, logger)

	// One bridge subscription per process; every request-scoped listener
	// hangs off this registry.
	unsubscribe, err := b.bridge.Subscribe(ctx, registry.Dispatch)
	if err != nil {
		return fmt.Errorf("subscribe to event bridge: %w", err)
	}
	defer unsubscribe()

	// With the in-memory store nothing else can see the queues, so the
	// worker pools have to run inside this process.
	if cfg.Store.Driver == "memory" {
		logger.Info().Msg("Memory store configured, running worker pools in-process")
		go runPools(ctx, cfg, b, logger)
	}

	router := api.NewRouter(logger, coord, api.RouterConfig{
		MaxFileSize: cfg.Upload.MaxFileSize,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// No write timeout: upload responses are open-ended SSE streams.
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("store", cfg.Store.Driver).Str("bridge", cfg.Bridge.Driver).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}
