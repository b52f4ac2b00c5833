package database

import (
	"encoding/json"
	"errors"
	"time"
)

// ConsoleMessage is one archived console message of a deployment
type ConsoleMessage struct {
	ID           int64           `db:"id" json:"id"`
	MessageID    string          `db:"message_id" json:"message_id"`
	DeploymentID string          `db:"deployment_id" json:"deployment_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	ReceivedAt   time.Time       `db:"received_at" json:"received_at"`
}

// SnapshotRecord indexes a KV namespace snapshot stored in object storage
type SnapshotRecord struct {
	ID           int64     `db:"id" json:"id"`
	DeploymentID string    `db:"deployment_id" json:"deployment_id"`
	Namespace    string    `db:"namespace" json:"namespace"`
	ObjectKey    string    `db:"object_key" json:"object_key"`
	ItemCount    int       `db:"item_count" json:"item_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// MessageQuery selects archived console messages. Results are newest first.
type MessageQuery struct {
	DeploymentID string
	// Before excludes messages received at or after this time when set
	Before time.Time
	Limit  int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// normalizedLimit clamps Limit into (0, maxQueryLimit]
func (q MessageQuery) normalizedLimit() int {
	switch {
	case q.Limit <= 0:
		return defaultQueryLimit
	case q.Limit > maxQueryLimit:
		return maxQueryLimit
	}
	return q.Limit
}

var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidMessage  = errors.New("invalid console message")
	ErrMissingDeployID = errors.New("deployment id is required")
)

// Validate checks the fields required for insertion
func (m *ConsoleMessage) Validate() error {
	if m.DeploymentID == "" {
		return ErrMissingDeployID
	}
	if m.MessageID == "" || len(m.Payload) == 0 || !json.Valid(m.Payload) {
		return ErrInvalidMessage
	}
	return nil
}
