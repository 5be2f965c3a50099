package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the share tables if needed. Postgres has no per-row
// TTL, so records carry expires_at and the sweeper purges expired rows.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS share_records (
	token TEXT PRIMARY KEY,
	record JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_share_records_expires_at ON share_records(expires_at);
CREATE TABLE IF NOT EXISTS cleanup_schedule (
	member TEXT PRIMARY KEY,
	due_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cleanup_schedule_due_at ON cleanup_schedule(due_at);
CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
