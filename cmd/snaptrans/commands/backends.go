package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/cache"
	"github.com/snaptrans/snaptrans/internal/config"
	"github.com/snaptrans/snaptrans/internal/ocr"
	"github.com/snaptrans/snaptrans/internal/pipeline"
	"github.com/snaptrans/snaptrans/internal/render"
	"github.com/snaptrans/snaptrans/internal/store"
	"github.com/snaptrans/snaptrans/internal/translate"
)

// backends bundles the shared infrastructure a process talks to: the job
// store, the content cache and the event bridge.
type backends struct {
	store  store.JobStore
	cache  cache.Client
	bridge bus.Bridge
}

// buildBackends constructs the configured drivers. A single Redis connection
// is shared by every Redis-backed driver.
func buildBackends(cfg *config.Config) (*backends, error) {
	var redisClient *redis.Client
	needsRedis := cfg.Store.Driver == "redis" || cfg.Cache.Driver == "redis" || cfg.Bridge.Driver == "redis"

	if needsRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
	}

	b := &backends{}

	switch cfg.Bridge.Driver {
	case "redis":
		b.bridge = bus.NewRedisBridge(redisClient, cfg.Bridge.Channel)
	case "nats":
		natsBridge, err := bus.NewNATSBridge(cfg.Bridge.NATS.URL, cfg.Bridge.Channel)
		if err != nil {
			return nil, err
		}
		b.bridge = natsBridge
	default:
		b.bridge = bus.NewMemoryBridge()
	}

	if cfg.Store.Driver == "redis" {
		b.store = store.NewRedisStore(redisClient, b.bridge, cfg.Store.PollInterval)
	} else {
		b.store = store.NewMemoryStore(b.bridge, cfg.Store.PollInterval)
	}

	if cfg.Cache.Driver == "redis" {
		b.cache = cache.NewRedisClient(redisClient)
	} else {
		b.cache = cache.NewMemoryClient()
	}

	return b, nil
}

// buildCapabilities constructs the external pipeline capabilities from
// configuration.
func buildCapabilities(cfg *config.Config) (pipeline.Recognizer, pipeline.Translator, pipeline.Renderer) {
	recognizer := ocr.New(ocr.Config{
		Binary:  cfg.Pipeline.OCR.Binary,
		Lang:    cfg.Pipeline.OCR.Lang,
		Timeout: cfg.Pipeline.OCR.Timeout,
	})

	translator := translate.New(translate.Config{
		Endpoint: cfg.Pipeline.Translate.Endpoint,
		From:     cfg.Pipeline.Translate.From,
		To:       cfg.Pipeline.Translate.To,
		Timeout:  cfg.Pipeline.Translate.Timeout,
	})

	renderer := render.New(render.Config{
		FontPath: cfg.Pipeline.PDF.FontPath,
		FontSize: cfg.Pipeline.PDF.FontSize,
	})

	return recognizer, translator, renderer
}
