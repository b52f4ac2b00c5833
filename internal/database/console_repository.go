package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ConsoleRepository stores console messages received by the relay
type ConsoleRepository struct {
	db *DB
}

// NewConsoleRepository creates a new console repository
func NewConsoleRepository(db *DB) *ConsoleRepository {
	return &ConsoleRepository{db: db}
}

// InsertBatch stores messages in one round trip. Messages whose message_id
// is already archived are skipped, so redelivered batches are harmless.
// It returns the number of rows actually inserted.
func (r *ConsoleRepository) InsertBatch(ctx context.Context, messages []ConsoleMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO console_messages (message_id, deployment_id, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for i := range messages {
		m := &messages[i]
		if err := m.Validate(); err != nil {
			return 0, fmt.Errorf("message %d: %w", i, err)
		}
		receivedAt := m.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		batch.Queue(query, m.MessageID, m.DeploymentID, m.Payload, receivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range messages {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert console message: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Recent returns archived messages matching q, newest first
func (r *ConsoleRepository) Recent(ctx context.Context, q MessageQuery) ([]ConsoleMessage, error) {
	if q.DeploymentID == "" {
		return nil, ErrMissingDeployID
	}

	before := q.Before
	if before.IsZero() {
		before = time.Now().Add(time.Minute)
	}

	query := `
		SELECT id, message_id, deployment_id, payload, received_at
		FROM console_messages
		WHERE deployment_id = $1 AND received_at < $2
		ORDER BY received_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, q.DeploymentID, before, q.normalizedLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to query console messages: %w", err)
	}
	return scanMessages(rows)
}

// Oldest returns up to limit messages received before cutoff in id order.
// Every message with a smaller id that matches cutoff is in the result, so
// DeleteUpTo with the last id removes exactly what was returned.
func (r *ConsoleRepository) Oldest(ctx context.Context, cutoff time.Time, limit int) ([]ConsoleMessage, error) {
	query := `
		SELECT id, message_id, deployment_id, payload, received_at
		FROM console_messages
		WHERE received_at < $1
		ORDER BY id ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired console messages: %w", err)
	}
	return scanMessages(rows)
}

// DeleteUpTo removes messages with id <= maxID received before cutoff
func (r *ConsoleRepository) DeleteUpTo(ctx context.Context, cutoff time.Time, maxID int64) (int, error) {
	query := `DELETE FROM console_messages WHERE received_at < $1 AND id <= $2`

	result, err := r.db.Exec(ctx, query, cutoff, maxID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete console messages: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// Count returns the number of archived messages of a deployment
func (r *ConsoleRepository) Count(ctx context.Context, deploymentID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM console_messages WHERE deployment_id = $1`, deploymentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count console messages: %w", err)
	}
	return count, nil
}

// Get returns one archived message by its message id
func (r *ConsoleRepository) Get(ctx context.Context, messageID string) (*ConsoleMessage, error) {
	var m ConsoleMessage
	err := r.db.QueryRow(ctx, `
		SELECT id, message_id, deployment_id, payload, received_at
		FROM console_messages
		WHERE message_id = $1
	`, messageID).Scan(&m.ID, &m.MessageID, &m.DeploymentID, &m.Payload, &m.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get console message: %w", err)
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]ConsoleMessage, error) {
	defer rows.Close()

	messages := make([]ConsoleMessage, 0)
	for rows.Next() {
		var m ConsoleMessage
		if err := rows.Scan(&m.ID, &m.MessageID, &m.DeploymentID, &m.Payload, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan console message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating console messages: %w", err)
	}
	return messages, nil
}
