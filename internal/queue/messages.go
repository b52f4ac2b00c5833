package queue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of queue message
type MessageType string

const (
	// MessageTypeConsole is one console message relayed from a deployment
	MessageTypeConsole MessageType = "console"
	// MessageTypeArchive is a batch of console messages waiting to be archived
	MessageTypeArchive MessageType = "archive"
)

// Subject names
const (
	SubjectConsolePrefix = "console."
	SubjectConsoleAll    = "console.>"
	SubjectDLQArchive    = "pylon.dlq.archive"
	SubjectDLQAll        = "pylon.dlq.>"
	SubjectRetention     = "pylon.retention"
)

// ConsoleSubject returns the subject console messages of a deployment are
// published on. Characters NATS treats as tokens are replaced.
func ConsoleSubject(deploymentID string) string {
	return SubjectConsolePrefix + subjectToken(deploymentID)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// BaseMessage contains common fields for all messages
type BaseMessage struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Retries   int         `json:"retries,omitempty"`
}

// ConsoleEvent is a console message as published to JetStream
type ConsoleEvent struct {
	BaseMessage
	DeploymentID string          `json:"deployment_id"`
	Payload      json.RawMessage `json:"payload"`
}

// ArchiveBatch carries console messages whose archive insert failed
type ArchiveBatch struct {
	BaseMessage
	DeploymentID string         `json:"deployment_id"`
	Events       []ConsoleEvent `json:"events"`
}

// DLQMessage represents a dead letter queue message
type DLQMessage struct {
	OriginalMessage json.RawMessage `json:"original_message"`
	OriginalSubject string          `json:"original_subject"`
	Error           string          `json:"error"`
	FailedAt        time.Time       `json:"failed_at"`
	Retries         int             `json:"retries"`
	MaxRetries      int             `json:"max_retries"`
}

// RetentionNotice is published after the retention sweeper removes
// archived console messages
type RetentionNotice struct {
	Cutoff      time.Time `json:"cutoff"`
	Deleted     int       `json:"deleted"`
	Exported    int       `json:"exported"`
	ArchivePath string    `json:"archive_path,omitempty"`
	DryRun      bool      `json:"dry_run,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewConsoleEvent wraps a console payload received at receivedAt
func NewConsoleEvent(deploymentID string, payload json.RawMessage, receivedAt time.Time) *ConsoleEvent {
	return &ConsoleEvent{
		BaseMessage: BaseMessage{
			ID:        uuid.NewString(),
			Type:      MessageTypeConsole,
			Timestamp: receivedAt.UTC(),
		},
		DeploymentID: deploymentID,
		Payload:      payload,
	}
}

// NewArchiveBatch groups events of one deployment for a DLQ retry
func NewArchiveBatch(deploymentID string, events []ConsoleEvent) *ArchiveBatch {
	return &ArchiveBatch{
		BaseMessage: BaseMessage{
			ID:        uuid.NewString(),
			Type:      MessageTypeArchive,
			Timestamp: time.Now().UTC(),
		},
		DeploymentID: deploymentID,
		Events:       events,
	}
}

// Marshal converts the message to JSON bytes
func (m *ConsoleEvent) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Marshal converts the message to JSON bytes
func (m *ArchiveBatch) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Marshal converts the message to JSON bytes
func (m *DLQMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalConsoleEvent unmarshals a console event from JSON
func UnmarshalConsoleEvent(data []byte) (*ConsoleEvent, error) {
	var msg ConsoleEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnmarshalArchiveBatch unmarshals an archive batch from JSON
func UnmarshalArchiveBatch(data []byte) (*ArchiveBatch, error) {
	var msg ArchiveBatch
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnmarshalDLQMessage unmarshals a DLQ message from JSON
func UnmarshalDLQMessage(data []byte) (*DLQMessage, error) {
	var msg DLQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NextRetryAt is the earliest time the message may be retried. The wait
// grows linearly with the number of retries already made.
func (m *DLQMessage) NextRetryAt(interval time.Duration) time.Time {
	return m.FailedAt.Add(interval * time.Duration(m.Retries+1))
}

// Exhausted reports whether no retries are left
func (m *DLQMessage) Exhausted() bool {
	return m.Retries >= m.MaxRetries
}
