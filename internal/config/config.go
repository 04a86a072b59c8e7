// Package config loads and validates process configuration from the
// environment, following the recognized options in the project's
// operational runbook (ENVIRONMENT, DATABASE_URL, DEMO_MODE,
// BINGX_API_KEY/BINGX_SECRET_KEY, FRONTEND_URL, PORT, AUTO_START_BOT,
// LOG_DIR).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-driven setting the refresh service reads
// at startup. Fields are resolved via struct tags: env is the variable
// name, envDefault is used when the variable is unset.
type Config struct {
	// Process
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"3001"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	LogDir      string `env:"LOG_DIR" envDefault:""`

	// Persistence
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	// Exchange credentials / mode
	DemoMode       bool   `env:"DEMO_MODE" envDefault:"false"`
	BingXAPIKey    string `env:"BINGX_API_KEY" envDefault:""`
	BingXSecretKey string `env:"BINGX_SECRET_KEY" envDefault:""`

	// HTTP surface
	FrontendURL string `env:"FRONTEND_URL" envDefault:""`

	// Collaborators out of core scope, named here only so the core can
	// decide whether to start them.
	AutoStartBot bool `env:"AUTO_START_BOT" envDefault:"false"`

	// Rate governor tuning (defaults match the published exchange quotas).
	MarketBucketCapacity  int `env:"RATE_MARKET_CAPACITY" envDefault:"95"`
	MarketBucketRefillMs  int `env:"RATE_MARKET_REFILL_MS" envDefault:"10000"`
	AccountBucketCapacity int `env:"RATE_ACCOUNT_CAPACITY" envDefault:"950"`
	AccountBucketRefillMs int `env:"RATE_ACCOUNT_REFILL_MS" envDefault:"10000"`

	// Refresh orchestrator tuning.
	TransformBatchSize        int `env:"REFRESH_TRANSFORM_BATCH_SIZE" envDefault:"100"`
	TransformConcurrentBatch  int `env:"REFRESH_TRANSFORM_CONCURRENCY" envDefault:"5"`
	BulkUpsertBatchSize       int `env:"REFRESH_UPSERT_BATCH_SIZE" envDefault:"500"`
	DeltaFreshnessWindowHours int `env:"REFRESH_DELTA_FRESHNESS_HOURS" envDefault:"1"`
}

// Load reads .env (if present, best-effort) and then environment variables,
// applying defaults, and validates the result. logger may be nil during
// very early startup, before a structured logger exists.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate enforces the relaxations and requirements the runbook documents:
// development tolerates a missing DATABASE_URL (an embedded SQLite store is
// used instead, see internal/store), but non-development environments
// require one.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.Environment != "development" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required outside development")
	}
	if !c.DemoMode && c.Environment != "development" {
		if c.BingXAPIKey == "" || c.BingXSecretKey == "" {
			return fmt.Errorf("BINGX_API_KEY and BINGX_SECRET_KEY are required unless DEMO_MODE is set")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got %q)", c.LogFormat)
	}
	if c.TransformBatchSize < 1 {
		return fmt.Errorf("REFRESH_TRANSFORM_BATCH_SIZE must be > 0")
	}
	if c.TransformConcurrentBatch < 1 {
		return fmt.Errorf("REFRESH_TRANSFORM_CONCURRENCY must be > 0")
	}
	if c.BulkUpsertBatchSize < 1 {
		return fmt.Errorf("REFRESH_UPSERT_BATCH_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment reports whether relaxed development behavior applies
// (embedded SQLite fallback, verbose logs).
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// LogFields logs the resolved configuration at startup, redacting secrets.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Int("port", c.Port).
		Bool("demo_mode", c.DemoMode).
		Bool("database_configured", c.DatabaseURL != "").
		Bool("credentials_configured", c.BingXAPIKey != "" && c.BingXSecretKey != "").
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Int("market_bucket_capacity", c.MarketBucketCapacity).
		Int("account_bucket_capacity", c.AccountBucketCapacity).
		Msg("configuration loaded")
}
