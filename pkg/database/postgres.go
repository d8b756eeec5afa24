package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConnections == 0 {
		out.MaxConnections = 25
	}
	if out.MaxConnLifetime == 0 {
		out.MaxConnLifetime = time.Hour
	}
	if out.MaxConnIdleTime == 0 {
		out.MaxConnIdleTime = 30 * time.Minute
	}
	return out
}

// NewConnection creates a pgx connection pool and verifies it with a ping.
// Zero-valued pool limits fall back to defaults.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	resolved := cfg.withDefaults()
	poolConfig.MaxConns = resolved.MaxConnections
	poolConfig.MaxConnLifetime = resolved.MaxConnLifetime
	poolConfig.MaxConnIdleTime = resolved.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// OpenStdlib opens a database/sql handle over the pgx driver for code that
// needs the stdlib interface (migrations).
func OpenStdlib(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
