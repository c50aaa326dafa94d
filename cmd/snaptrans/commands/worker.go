package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snaptrans/snaptrans/internal/config"
	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/observability"
	"github.com/snaptrans/snaptrans/internal/pipeline"
	"github.com/snaptrans/snaptrans/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the recognition and translation worker pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() error {
	cfg, logger, err := loadConfig("snaptrans-worker")
	if err != nil {
		return err
	}

	// A standalone worker process shares jobs with the API server through
	// Redis; the memory drivers only see their own process.
	if cfg.Store.Driver != "redis" {
		return fmt.Errorf("worker requires store.driver=redis (got %s)", cfg.Store.Driver)
	}

	b, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	defer b.bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	logger.Info().
		Int("recognition_workers", cfg.Queues.RecognitionWorkers).
		Int("translation_workers", cfg.Queues.TranslationWorkers).
		Msg("Worker pools starting")

	runPools(ctx, cfg, b, logger)

	logger.Info().Msg("Worker pools stopped")
	return nil
}

// runPools runs both stage pools until ctx is done.
func runPools(ctx context.Context, cfg *config.Config, b *backends, logger *observability.Logger) {
	recognizer, translator, renderer := buildCapabilities(cfg)

	recognitionQueue := queue.New(job.QueueRecognition, b.store, logger)
	translationQueue := queue.New(job.QueueTranslation, b.store, logger)

	recognitionStage := pipeline.NewRecognitionStage(b.store, b.cache, recognizer, translationQueue, logger)
	translationStage := pipeline.NewTranslationStage(b.store, b.cache, translator, renderer, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recognitionQueue.Run(ctx, cfg.Queues.RecognitionWorkers, recognitionStage.Stage())
	}()
	go func() {
		defer wg.Done()
		translationQueue.Run(ctx, cfg.Queues.TranslationWorkers, translationStage.Stage())
	}()
	wg.Wait()
}
