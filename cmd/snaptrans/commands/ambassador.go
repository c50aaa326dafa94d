package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snaptrans/snaptrans/internal/ambassador"
)

var ambassadorCmd = &cobra.Command{
	Use:   "ambassador",
	Short: "Run the circuit-breaking reverse proxy in front of the core service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAmbassador()
	},
}

func init() {
	rootCmd.AddCommand(ambassadorCmd)
}

func runAmbassador() error {
	cfg, logger, err := loadConfig("snaptrans-ambassador")
	if err != nil {
		return err
	}

	proxy, err := ambassador.New(ambassador.Config{
		UpstreamURL: cfg.Ambassador.UpstreamURL,
		Timeout:     cfg.Ambassador.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("create proxy: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Ambassador.Host, cfg.Ambassador.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     proxy,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("upstream", cfg.Ambassador.UpstreamURL).Msg("Ambassador listening")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
	}

	return nil
}
