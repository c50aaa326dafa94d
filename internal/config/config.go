// Package config provides unified configuration loading for snaptrans.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for snaptrans.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Store         StoreConfig         `yaml:"store"`
	Cache         CacheConfig         `yaml:"cache"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Queues        QueuesConfig        `yaml:"queues"`
	Upload        UploadConfig        `yaml:"upload"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Ambassador    AmbassadorConfig    `yaml:"ambassador"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// RedisConfig holds Redis connection settings shared by the store, the cache
// and the event bridge.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// StoreConfig holds job store settings.
type StoreConfig struct {
	Driver       string        `yaml:"driver"` // memory or redis
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CacheConfig holds content cache settings.
type CacheConfig struct {
	Driver string `yaml:"driver"` // memory or redis
}

// BridgeConfig holds event bridge settings.
type BridgeConfig struct {
	Driver  string     `yaml:"driver"` // memory, redis or nats
	Channel string     `yaml:"channel"`
	NATS    NATSConfig `yaml:"nats"`
}

// NATSConfig holds NATS-specific settings.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// QueuesConfig holds worker pool sizes. Recognition gets more workers than
// translation: rendering is comparatively cheap next to OCR.
type QueuesConfig struct {
	RecognitionWorkers int `yaml:"recognition_workers"`
	TranslationWorkers int `yaml:"translation_workers"`
}

// UploadConfig holds upload validation settings.
type UploadConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
}

// PipelineConfig holds settings for the external pipeline capabilities.
type PipelineConfig struct {
	OCR       OCRConfig       `yaml:"ocr"`
	Translate TranslateConfig `yaml:"translate"`
	PDF       PDFConfig       `yaml:"pdf"`
}

// OCRConfig holds recognition capability settings.
type OCRConfig struct {
	Binary  string        `yaml:"binary"`
	Lang    string        `yaml:"lang"`
	Timeout time.Duration `yaml:"timeout"`
}

// TranslateConfig holds translation capability settings.
type TranslateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PDFConfig holds PDF rendering settings.
type PDFConfig struct {
	FontPath string  `yaml:"font_path"`
	FontSize float64 `yaml:"font_size"`
}

// AmbassadorConfig holds reverse proxy settings.
type AmbassadorConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	UpstreamURL string        `yaml:"upstream_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3000,
			ReadTimeout:      30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Store: StoreConfig{
			Driver:       "memory",
			PollInterval: 250 * time.Millisecond,
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Bridge: BridgeConfig{
			Driver:  "memory",
			Channel: "jobs.events",
			NATS: NATSConfig{
				URL: "nats://localhost:4222",
			},
		},
		Queues: QueuesConfig{
			RecognitionWorkers: 3,
			TranslationWorkers: 2,
		},
		Upload: UploadConfig{
			MaxFileSize: 10 << 20, // 10 MB
		},
		Pipeline: PipelineConfig{
			OCR: OCRConfig{
				Binary:  "tesseract",
				Lang:    "eng",
				Timeout: 30 * time.Second,
			},
			Translate: TranslateConfig{
				Endpoint: "https://translate.googleapis.com/translate_a/single",
				From:     "en",
				To:       "vi",
				Timeout:  15 * time.Second,
			},
			PDF: PDFConfig{
				FontSize: 14,
			},
		},
		Ambassador: AmbassadorConfig{
			Host:        "0.0.0.0",
			Port:        3001,
			UpstreamURL: "http://localhost:3000",
			Timeout:     30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	for name, driver := range map[string]string{
		"store": c.Store.Driver,
		"cache": c.Cache.Driver,
	} {
		if driver != "memory" && driver != "redis" {
			return fmt.Errorf("invalid %s driver: %s", name, driver)
		}
	}

	switch c.Bridge.Driver {
	case "memory", "redis", "nats":
	default:
		return fmt.Errorf("invalid bridge driver: %s", c.Bridge.Driver)
	}

	// A Redis store means jobs run in other processes, whose events an
	// in-process bridge can never deliver here.
	if c.Store.Driver == "redis" && c.Bridge.Driver == "memory" {
		return fmt.Errorf("store.driver=redis requires a cross-process bridge driver (redis or nats)")
	}

	if c.Queues.RecognitionWorkers < 1 || c.Queues.TranslationWorkers < 1 {
		return fmt.Errorf("worker pool sizes must be at least 1")
	}

	if c.Upload.MaxFileSize < 1 {
		return fmt.Errorf("max_file_size must be positive")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.Driver = "redis"
		cfg.Cache.Driver = "redis"
		if cfg.Bridge.Driver == "memory" {
			cfg.Bridge.Driver = "redis"
		}
		cfg.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Bridge.Driver = "nats"
		cfg.Bridge.NATS.URL = v
	}

	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		cfg.Ambassador.UpstreamURL = v
	}

	if v := os.Getenv("TESSERACT_BINARY"); v != "" {
		cfg.Pipeline.OCR.Binary = v
	}

	if v := os.Getenv("TRANSLATE_TO"); v != "" {
		cfg.Pipeline.Translate.To = v
	}

	if v := os.Getenv("PDF_FONT_PATH"); v != "" {
		cfg.Pipeline.PDF.FontPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
