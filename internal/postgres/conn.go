// Package postgres implements the Postgres-backed principal and API key
// stores used by tokengated.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions sizes the connection pool. The gate only runs short
// single-row reads, so the defaults are small.
type PoolOptions struct {
	MaxConns          int32         // DB_MAX_CONNS, default 10
	MinConns          int32         // DB_MIN_CONNS, default 2
	MaxConnLifetime   time.Duration // DB_MAX_CONN_LIFETIME, default 1h
	MaxConnIdleTime   time.Duration // DB_MAX_CONN_IDLE_TIME, default 30m
	HealthCheckPeriod time.Duration // DB_HEALTH_CHECK_PERIOD, default 1m
}

// DefaultPoolOptions returns the pool limits used when nothing overrides them.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// PoolOptionsFromEnv applies the DB_* environment variables on top of the
// defaults. Malformed values are logged and ignored.
func PoolOptionsFromEnv() PoolOptions {
	o := DefaultPoolOptions()
	o.MaxConns = int32(envInt("DB_MAX_CONNS", int(o.MaxConns)))
	o.MinConns = int32(envInt("DB_MIN_CONNS", int(o.MinConns)))
	o.MaxConnLifetime = envDuration("DB_MAX_CONN_LIFETIME", o.MaxConnLifetime)
	o.MaxConnIdleTime = envDuration("DB_MAX_CONN_IDLE_TIME", o.MaxConnIdleTime)
	o.HealthCheckPeriod = envDuration("DB_HEALTH_CHECK_PERIOD", o.HealthCheckPeriod)
	return o
}

// NewPool connects to databaseURL with PoolOptionsFromEnv and pings it.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	return NewPoolWithOptions(ctx, databaseURL, PoolOptionsFromEnv())
}

// NewPoolWithOptions connects to databaseURL and pings it. The options win
// over pool_* parameters in the URL.
func NewPoolWithOptions(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = min(opts.MinConns, opts.MaxConns)
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	cfg.HealthCheckPeriod = opts.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("postgres connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database,
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
	return pool, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("ignoring invalid env var", "key", key, "value", v)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("ignoring invalid env var", "key", key, "value", v)
		return def
	}
	return d
}
