// Package postgres holds the relational store: file rows, API keys, and
// usage accounting.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/supavec/supavec-sub000/internal/postgres/migrations"
)

// Sentinel errors for relational store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotFound indicates a missing, deleted, or foreign row.
	ErrNotFound = errors.New("not found")
)

// Config holds connection settings for Postgres.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int

	// ConnMaxLifetime recycles pooled connections.
	ConnMaxLifetime time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%w: dsn required", ErrInvalidConfig)
	}
	return nil
}

// Store bundles the repositories sharing one connection pool.
type Store struct {
	db      *sql.DB
	Files   *FileRepository
	APIKeys *APIKeyRepository
	Usage   *UsageRepository
}

// New opens the pool, verifies connectivity, and applies migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{
		db:      db,
		Files:   &FileRepository{db: db},
		APIKeys: &APIKeyRepository{db: db},
		Usage:   &UsageRepository{db: db},
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports pool health.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
