package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleSubject(t *testing.T) {
	tests := []struct {
		deployment string
		want       string
	}{
		{"123456", "console.123456"},
		{"a.b", "console.a_b"},
		{"x*>y", "console.x__y"},
		{"", "console._"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConsoleSubject(tt.deployment), tt.deployment)
	}
}

func TestNewConsoleEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	a := NewConsoleEvent("dep", json.RawMessage(`{"level":"info"}`), at)
	b := NewConsoleEvent("dep", json.RawMessage(`{"level":"info"}`), at)

	assert.NotEqual(t, a.ID, b.ID)
	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
	assert.Equal(t, MessageTypeConsole, a.Type)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
	assert.True(t, a.Timestamp.Equal(at))

	data, err := a.Marshal()
	require.NoError(t, err)
	decoded, err := UnmarshalConsoleEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "dep", decoded.DeploymentID)
	assert.JSONEq(t, `{"level":"info"}`, string(decoded.Payload))
}

func TestDLQMessageRetrySchedule(t *testing.T) {
	failed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &DLQMessage{FailedAt: failed, Retries: 0, MaxRetries: 2}

	assert.Equal(t, failed.Add(time.Minute), m.NextRetryAt(time.Minute))
	assert.False(t, m.Exhausted())

	m.Retries = 1
	assert.Equal(t, failed.Add(2*time.Minute), m.NextRetryAt(time.Minute))

	m.Retries = 2
	assert.True(t, m.Exhausted())
}

func TestArchiveBatchCarriesEvents(t *testing.T) {
	ev := NewConsoleEvent("dep", json.RawMessage(`"line"`), time.Now())
	batch := NewArchiveBatch("dep", []ConsoleEvent{*ev})

	data, err := batch.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalArchiveBatch(data)
	require.NoError(t, err)
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, ev.ID, decoded.Events[0].ID)
	assert.Equal(t, MessageTypeArchive, decoded.Type)
}
