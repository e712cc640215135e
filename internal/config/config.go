// Package config provides configuration loading for the supavec service.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults for anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Blob       BlobConfig       `koanf:"blob"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Answer     AnswerConfig     `koanf:"answer"`
	Usage      UsageConfig      `koanf:"usage"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PostgresConfig holds the relational store configuration.
type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// BlobConfig holds S3-compatible blob store configuration.
type BlobConfig struct {
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	Endpoint  string `koanf:"endpoint"` // optional, for MinIO-style deployments
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

// QdrantConfig holds the vector store configuration.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"` // gRPC port, not HTTP
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
}

// EmbeddingsConfig holds the embedding service configuration.
type EmbeddingsConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	BatchSize int    `koanf:"batch_size"`
}

// AnswerConfig holds the generative model configuration for answer synthesis.
type AnswerConfig struct {
	APIKey      string  `koanf:"api_key"`
	Model       string  `koanf:"model"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

// UsageConfig holds rate-limit and quota gate configuration.
type UsageConfig struct {
	// RateLimitDisabled turns per-IP rate limiting off, for local and test
	// environments. Limiting is on by default.
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	RateLimit         int           `koanf:"rate_limit"`  // requests per window
	RateWindow        time.Duration `koanf:"rate_window"` // sliding window size

	// ResetSchedule is the cron expression for the quota anchor sweep.
	ResetSchedule string `koanf:"reset_schedule"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "documents"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 1536
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 100
	}

	if cfg.Answer.Model == "" {
		cfg.Answer.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Answer.MaxTokens == 0 {
		cfg.Answer.MaxTokens = 1024
	}
	if cfg.Answer.Temperature == 0 {
		cfg.Answer.Temperature = 0.1
	}

	if cfg.Usage.RateLimit == 0 {
		cfg.Usage.RateLimit = 10
	}
	if cfg.Usage.RateWindow == 0 {
		cfg.Usage.RateWindow = 10 * time.Second
	}
	if cfg.Usage.ResetSchedule == "" {
		cfg.Usage.ResetSchedule = "@hourly"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port: %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("%w: postgres DSN required", ErrInvalidConfig)
	}
	if c.Blob.Bucket == "" {
		return fmt.Errorf("%w: blob bucket required", ErrInvalidConfig)
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("%w: invalid qdrant port: %d", ErrInvalidConfig, c.Qdrant.Port)
	}
	if c.Qdrant.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("%w: embeddings base URL required", ErrInvalidConfig)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("%w: embeddings batch size must be positive", ErrInvalidConfig)
	}
	if c.Usage.RateLimit <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}
	return nil
}
