package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SnapshotRepository indexes KV snapshots written to object storage
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Record stores a snapshot and fills in its ID and creation time
func (r *SnapshotRepository) Record(ctx context.Context, rec *SnapshotRecord) error {
	if rec.DeploymentID == "" {
		return ErrMissingDeployID
	}

	query := `
		INSERT INTO kv_snapshots (deployment_id, namespace, object_key, item_count)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, rec.DeploymentID, rec.Namespace, rec.ObjectKey, rec.ItemCount).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// List returns the snapshots of a namespace, newest first
func (r *SnapshotRepository) List(ctx context.Context, deploymentID, namespace string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 || limit > maxQueryLimit {
		limit = defaultQueryLimit
	}

	query := `
		SELECT id, deployment_id, namespace, object_key, item_count, created_at
		FROM kv_snapshots
		WHERE deployment_id = $1 AND namespace = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, deploymentID, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		var rec SnapshotRecord
		if err := rows.Scan(&rec.ID, &rec.DeploymentID, &rec.Namespace, &rec.ObjectKey, &rec.ItemCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return records, nil
}

// Get returns one snapshot by ID
func (r *SnapshotRepository) Get(ctx context.Context, id int64) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := r.db.QueryRow(ctx, `
		SELECT id, deployment_id, namespace, object_key, item_count, created_at
		FROM kv_snapshots
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.DeploymentID, &rec.Namespace, &rec.ObjectKey, &rec.ItemCount, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &rec, nil
}
