package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/queue"
)

func batchOf(deploymentID string, payloads ...string) *Batch {
	b := &Batch{DeploymentID: deploymentID, StartTime: time.Now()}
	for _, p := range payloads {
		b.Events = append(b.Events, *event(deploymentID, p))
	}
	return b
}

func TestArchiverInsertsBatch(t *testing.T) {
	archive := &mockArchive{}
	status := newFakeStatus()
	metrics := NewMetrics()
	a := NewArchiver(archive, &fakeDLQ{}, status, metrics)

	batch := batchOf("dep", `{"a":1}`, `{"a":2}`)
	archive.On("InsertBatch", mock.Anything, mock.MatchedBy(func(msgs []database.ConsoleMessage) bool {
		return len(msgs) == 2 &&
			msgs[0].MessageID == batch.Events[0].ID &&
			msgs[1].DeploymentID == "dep" &&
			string(msgs[1].Payload) == `{"a":2}`
	})).Return(2, nil).Once()

	require.NoError(t, a.Archive(context.Background(), batch))
	archive.AssertExpectations(t)

	assert.Equal(t, 2, status.count("dep"))
	assert.Equal(t, int64(2), metrics.GetStats()["messages_archived"])
}

func TestArchiverDeadLettersFailedBatch(t *testing.T) {
	archive := &mockArchive{}
	archive.On("InsertBatch", mock.Anything, mock.Anything).Return(0, errors.New("connection refused"))

	dlq := &fakeDLQ{}
	status := newFakeStatus()
	metrics := NewMetrics()
	a := NewArchiver(archive, dlq, status, metrics)

	batch := batchOf("dep", `1`, `2`, `3`)
	require.NoError(t, a.Archive(context.Background(), batch))

	sent := dlq.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "dep", sent[0].DeploymentID)
	assert.Len(t, sent[0].Events, 3)
	assert.Equal(t, queue.MessageTypeArchive, sent[0].Type)

	stats := metrics.GetStats()
	assert.Equal(t, int64(3), stats["messages_failed"])
	assert.Equal(t, int64(1), stats["error_counts"].(map[string]int64)["archive_error"])
	assert.Equal(t, 1, status.errors["dep"])
}

func TestArchiverReportsWhenDLQFails(t *testing.T) {
	archive := &mockArchive{}
	archive.On("InsertBatch", mock.Anything, mock.Anything).Return(0, errors.New("db down"))

	a := NewArchiver(archive, &fakeDLQ{err: errors.New("nats down")}, nil, NewMetrics())
	err := a.Archive(context.Background(), batchOf("dep", `1`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats down")

	a = NewArchiver(archive, nil, nil, NewMetrics())
	assert.Error(t, a.Archive(context.Background(), batchOf("dep", `1`)))
}

func TestArchiverRetry(t *testing.T) {
	archive := newMemArchive()
	a := NewArchiver(archive, nil, nil, NewMetrics())

	b := batchOf("dep", `1`, `2`)
	dead := queue.NewArchiveBatch("dep", b.Events)

	require.NoError(t, a.Retry(context.Background(), dead))
	require.NoError(t, a.Retry(context.Background(), dead))
	assert.Equal(t, 2, archive.len())

	archive.setFail(true)
	assert.Error(t, a.Retry(context.Background(), dead))
}

func TestArchiverEmptyBatch(t *testing.T) {
	archive := &mockArchive{}
	a := NewArchiver(archive, nil, nil, NewMetrics())
	require.NoError(t, a.Archive(context.Background(), &Batch{DeploymentID: "dep"}))
	archive.AssertNotCalled(t, "InsertBatch", mock.Anything, mock.Anything)
}
