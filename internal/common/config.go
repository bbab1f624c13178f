package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Logging     LoggingConfig  `toml:"logging"`
	Storage     StorageConfig  `toml:"storage"`
	Queue       QueueConfig    `toml:"queue"`
	Workers     WorkersConfig  `toml:"workers"`
	Token       TokenConfig    `toml:"token"`
	Upstream    UpstreamConfig `toml:"upstream"`
	Scraper     ScraperConfig  `toml:"scraper"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig configures the relational store (properties, jobs, monitors, stats)
type SQLiteConfig struct {
	Path          string `toml:"path" validate:"required"`
	CacheSizeMB   int    `toml:"cache_size_mb" validate:"gte=1"`
	WALMode       bool   `toml:"wal_mode"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms" validate:"gte=0"`
}

// BadgerConfig configures the embedded KV store backing the queue and cache
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	Name               string `toml:"name" validate:"required"`
	PollInterval       string `toml:"poll_interval" validate:"required"`        // e.g., "1s" - worker poll cadence when queue is empty
	VisibilityTimeout  string `toml:"visibility_timeout" validate:"required"`   // e.g., "5m" - active-task lease before stall recovery
	MaxAttempts        int    `toml:"max_attempts" validate:"gte=1"`            // Attempt budget per task
	CleanupInterval    string `toml:"cleanup_interval" validate:"required"`     // e.g., "1h" - hygiene sweep cadence
	CleanupGracePeriod string `toml:"cleanup_grace_period" validate:"required"` // e.g., "24h" - retention for terminal records
}

type WorkersConfig struct {
	Concurrency   int    `toml:"concurrency" validate:"gte=1"` // Number of concurrent scrape workers
	ShutdownGrace string `toml:"shutdown_grace" validate:"required"`
}

type TokenConfig struct {
	EndpointURL     string `toml:"endpoint_url" validate:"required,url"`
	RefreshInterval string `toml:"refresh_interval" validate:"required"` // Strictly below the upstream's ~5m expiry
}

type UpstreamConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"`
	APIYear string `toml:"api_year"` // Year sent as pYear filter; defaults to current year
}

type ScraperConfig struct {
	RateLimitCooldown string `toml:"rate_limit_cooldown" validate:"required"` // Re-enqueue gate per term
}

// NewDefaultConfig returns the configuration defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/praedium.db",
				CacheSizeMB:   64,
				WALMode:       true,
				BusyTimeoutMS: 5000,
			},
			Badger: BadgerConfig{
				Path:           "./data/badger",
				ResetOnStartup: false,
			},
		},
		Queue: QueueConfig{
			Name:               "scrape",
			PollInterval:       "1s",
			VisibilityTimeout:  "5m",
			MaxAttempts:        3,
			CleanupInterval:    "1h",
			CleanupGracePeriod: "24h",
		},
		Workers: WorkersConfig{
			Concurrency:   2,
			ShutdownGrace: "10s",
		},
		Token: TokenConfig{
			EndpointURL:     "http://localhost:9090/token",
			RefreshInterval: "4m",
		},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:9090/search",
			APIYear: strconv.Itoa(time.Now().Year()),
		},
		Scraper: ScraperConfig{
			RateLimitCooldown: "5s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks struct tags and duration fields
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":        c.Queue.PollInterval,
		"queue.visibility_timeout":   c.Queue.VisibilityTimeout,
		"queue.cleanup_interval":     c.Queue.CleanupInterval,
		"queue.cleanup_grace_period": c.Queue.CleanupGracePeriod,
		"workers.shutdown_grace":     c.Workers.ShutdownGrace,
		"token.refresh_interval":     c.Token.RefreshInterval,
		"scraper.rate_limit_cooldown": c.Scraper.RateLimitCooldown,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
	}

	return nil
}

// ParseDuration parses a config duration string, falling back to def on error.
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PRAEDIUM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if level := os.Getenv("PRAEDIUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("PRAEDIUM_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}

	if path := os.Getenv("PRAEDIUM_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if concurrency := os.Getenv("PRAEDIUM_WORKER_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil && n > 0 {
			config.Workers.Concurrency = n
		}
	}

	if interval := os.Getenv("PRAEDIUM_TOKEN_REFRESH_INTERVAL"); interval != "" {
		config.Token.RefreshInterval = interval
	}

	if url := os.Getenv("PRAEDIUM_TOKEN_ENDPOINT_URL"); url != "" {
		config.Token.EndpointURL = url
	}

	if url := os.Getenv("PRAEDIUM_UPSTREAM_BASE_URL"); url != "" {
		config.Upstream.BaseURL = url
	}

	if year := os.Getenv("PRAEDIUM_API_YEAR"); year != "" {
		config.Upstream.APIYear = strings.TrimSpace(year)
	}
}
