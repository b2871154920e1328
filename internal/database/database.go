package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates the pool and verifies the database is reachable.
func New(ctx context.Context, databaseURL string, maxConns int32) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate applies River's queue tables and then the application schema.
// Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db.Pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nQuery: %s", err, migration)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_staff BOOLEAN NOT NULL DEFAULT FALSE,
		is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
		date_joined TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key_hash TEXT NOT NULL UNIQUE,
		encrypted_key TEXT NOT NULL,
		key_hint TEXT NOT NULL,
		api_key_type VARCHAR(15) NOT NULL DEFAULT 'free_tier',
		maximum_usage BIGINT NOT NULL DEFAULT 0 CHECK (maximum_usage >= 0),
		total_usage BIGINT NOT NULL DEFAULT 0 CHECK (total_usage >= 0),
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		last_used TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT api_keys_usage_within_quota CHECK (total_usage <= maximum_usage)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);`,
	// Backstop for the one-default-key-per-user rule enforced by the service.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_one_default ON api_keys(user_id) WHERE is_default;`,

	`CREATE TABLE IF NOT EXISTS api_key_logs (
		id BIGSERIAL PRIMARY KEY,
		api_key_id UUID NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		status VARCHAR(15) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'success', 'failed'))
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_key_logs_key_time ON api_key_logs(api_key_id, timestamp DESC);`,

	`CREATE TABLE IF NOT EXISTS histories (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		image_url TEXT NOT NULL,
		results JSONB NOT NULL,
		log_id BIGINT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_histories_user ON histories(user_id, created_at DESC);`,

	`CREATE TABLE IF NOT EXISTS websocket_connections (
		connection_id TEXT PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		instance_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_websocket_connections_user ON websocket_connections(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_websocket_connections_instance ON websocket_connections(instance_id, last_seen);`,
}
