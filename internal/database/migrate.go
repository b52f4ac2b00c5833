package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS console_messages (
		id BIGSERIAL PRIMARY KEY,
		message_id UUID NOT NULL UNIQUE,
		deployment_id VARCHAR(64) NOT NULL,
		payload JSONB NOT NULL,
		received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_console_messages_deployment_received
		ON console_messages(deployment_id, received_at DESC);

	CREATE TABLE IF NOT EXISTS kv_snapshots (
		id BIGSERIAL PRIMARY KEY,
		deployment_id VARCHAR(64) NOT NULL,
		namespace VARCHAR(255) NOT NULL,
		object_key TEXT NOT NULL UNIQUE,
		item_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_kv_snapshots_namespace
		ON kv_snapshots(deployment_id, namespace, created_at DESC);
`

// Migrate creates the archive schema. It runs over database/sql with the
// lib/pq driver so it can be used before the pgx pool is up.
func Migrate(ctx context.Context, connStr string) error {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
