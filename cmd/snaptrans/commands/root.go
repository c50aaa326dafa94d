// Package commands implements the snaptrans CLI commands.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/snaptrans/snaptrans/internal/config"
	"github.com/snaptrans/snaptrans/internal/observability"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "snaptrans",
	Short: "snaptrans - translate images into PDFs through an async pipeline",
	Long: `snaptrans turns uploaded images into translated PDF documents through a
two-stage asynchronous pipeline (text recognition, then translation and PDF
rendering), streaming live progress to clients as Server-Sent Events.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; explicit config errors are not.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and builds the service logger.
func loadConfig(service string) (*config.Config, *observability.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: service,
	})

	return cfg, logger, nil
}
