package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/queue"
	"github.com/birbparty/pylonkit/internal/storage"
)

// Mock types
type mockArchive struct {
	mock.Mock
}

func (m *mockArchive) InsertBatch(ctx context.Context, messages []database.ConsoleMessage) (int, error) {
	args := m.Called(ctx, messages)
	return args.Int(0), args.Error(1)
}

func (m *mockArchive) Recent(ctx context.Context, q database.MessageQuery) ([]database.ConsoleMessage, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]database.ConsoleMessage), args.Error(1)
}

func (m *mockArchive) Oldest(ctx context.Context, cutoff time.Time, limit int) ([]database.ConsoleMessage, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.ConsoleMessage), args.Error(1)
}

func (m *mockArchive) DeleteUpTo(ctx context.Context, cutoff time.Time, maxID int64) (int, error) {
	args := m.Called(ctx, cutoff, maxID)
	return args.Int(0), args.Error(1)
}

func (m *mockArchive) Count(ctx context.Context, deploymentID string) (int64, error) {
	args := m.Called(ctx, deploymentID)
	return args.Get(0).(int64), args.Error(1)
}

type mockObjects struct {
	mock.Mock
}

func (m *mockObjects) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	args := m.Called(ctx, key, data, metadata)
	return args.Error(0)
}

func (m *mockObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	return nil, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PublishNotice(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func messages(ids ...int64) []database.ConsoleMessage {
	out := make([]database.ConsoleMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, database.ConsoleMessage{
			ID:           id,
			MessageID:    "m",
			DeploymentID: "dep-1",
			Payload:      json.RawMessage(`{"line":"x"}`),
			ReceivedAt:   fixedNow.Add(-48 * time.Hour),
		})
	}
	return out
}

func newTestService(archive *mockArchive, objects *mockObjects, notifier *mockNotifier, config CleanupConfig) *CleanupService {
	// typed nil pointers must not leak into the interfaces
	var store storage.ObjectStore
	if objects != nil {
		store = objects
	}
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	svc := NewCleanupService(archive, store, n, config)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestNewCleanupServiceDefaults(t *testing.T) {
	svc := NewCleanupService(&mockArchive{}, nil, nil, CleanupConfig{ExportBeforeDelete: true})

	assert.Equal(t, 7*24*time.Hour, svc.config.Retention)
	assert.Equal(t, 15*time.Minute, svc.config.CleanupInterval)
	assert.Equal(t, 5000, svc.config.BatchLimit)
	assert.Equal(t, queue.SubjectRetention, svc.config.Subject)
	assert.False(t, svc.config.ExportBeforeDelete, "export needs an object store")
}

func TestSweepExportsDeletesAndNotifies(t *testing.T) {
	archive := &mockArchive{}
	objects := &mockObjects{}
	notifier := &mockNotifier{}
	cutoff := fixedNow.Add(-24 * time.Hour)

	archive.On("Oldest", mock.Anything, cutoff, 2).Return(messages(1, 2), nil).Once()
	archive.On("Oldest", mock.Anything, cutoff, 2).Return(messages(3), nil).Once()
	archive.On("DeleteUpTo", mock.Anything, cutoff, int64(2)).Return(2, nil).Once()
	archive.On("DeleteUpTo", mock.Anything, cutoff, int64(3)).Return(1, nil).Once()

	objects.On("Put", mock.Anything, "console-archives/2026-03-09/120000.000000000.jsonl", mock.Anything, mock.Anything).Return(nil).Once()
	objects.On("Put", mock.Anything, "console-archives/2026-03-09/120000.000000000-1.jsonl", mock.Anything, mock.Anything).Return(nil).Once()

	notifier.On("PublishNotice", queue.SubjectRetention, mock.Anything, mock.Anything).Return(nil).Once()

	svc := newTestService(archive, objects, notifier, CleanupConfig{
		Retention:          24 * time.Hour,
		BatchLimit:         2,
		ExportBeforeDelete: true,
	})

	notice, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, notice.Deleted)
	assert.Equal(t, 3, notice.Exported)
	assert.Equal(t, "console-archives/2026-03-09/120000.000000000-1.jsonl", notice.ArchivePath)
	assert.False(t, notice.DryRun)
	assert.Equal(t, fixedNow, notice.CompletedAt)

	archive.AssertExpectations(t)
	objects.AssertExpectations(t)
	notifier.AssertExpectations(t)

	// The published payload is the notice itself
	data := notifier.Calls[0].Arguments.Get(1).([]byte)
	var published queue.RetentionNotice
	require.NoError(t, json.Unmarshal(data, &published))
	assert.Equal(t, 3, published.Deleted)
}

func TestSweepDryRun(t *testing.T) {
	archive := &mockArchive{}
	notifier := &mockNotifier{}
	cutoff := fixedNow.Add(-24 * time.Hour)

	archive.On("Oldest", mock.Anything, cutoff, 10).Return(messages(1, 2, 3), nil).Once()
	notifier.On("PublishNotice", queue.SubjectRetention, mock.Anything, mock.Anything).Return(nil).Once()

	svc := newTestService(archive, &mockObjects{}, notifier, CleanupConfig{
		Retention:  24 * time.Hour,
		BatchLimit: 10,
		DryRun:     true,
	})

	notice, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, notice.DryRun)
	assert.Equal(t, 0, notice.Deleted)
	assert.Equal(t, 3, notice.Exported)

	archive.AssertNotCalled(t, "DeleteUpTo", mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)
}

func TestSweepNothingExpired(t *testing.T) {
	archive := &mockArchive{}
	notifier := &mockNotifier{}
	archive.On("Oldest", mock.Anything, mock.Anything, mock.Anything).Return([]database.ConsoleMessage{}, nil).Once()

	svc := newTestService(archive, nil, notifier, CleanupConfig{Retention: time.Hour})

	notice, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, notice.Deleted)
	notifier.AssertNotCalled(t, "PublishNotice", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepExportFailureKeepsRows(t *testing.T) {
	archive := &mockArchive{}
	objects := &mockObjects{}

	archive.On("Oldest", mock.Anything, mock.Anything, mock.Anything).Return(messages(7), nil).Once()
	objects.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone")).Once()

	svc := newTestService(archive, objects, nil, CleanupConfig{
		Retention:          time.Hour,
		ExportBeforeDelete: true,
	})

	_, err := svc.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	archive.AssertNotCalled(t, "DeleteUpTo", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepWithoutExport(t *testing.T) {
	archive := &mockArchive{}
	archive.On("Oldest", mock.Anything, mock.Anything, 100).Return(messages(4, 5), nil).Once()
	archive.On("DeleteUpTo", mock.Anything, mock.Anything, int64(5)).Return(2, nil).Once()

	svc := newTestService(archive, nil, nil, CleanupConfig{
		Retention:  time.Hour,
		BatchLimit: 100,
	})

	notice, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, notice.Deleted)
	assert.Zero(t, notice.Exported)
	assert.Empty(t, notice.ArchivePath)
	archive.AssertExpectations(t)
}

func TestSweepNotifyFailureIsNotFatal(t *testing.T) {
	archive := &mockArchive{}
	notifier := &mockNotifier{}
	archive.On("Oldest", mock.Anything, mock.Anything, mock.Anything).Return(messages(1), nil).Once()
	archive.On("DeleteUpTo", mock.Anything, mock.Anything, int64(1)).Return(1, nil).Once()
	notifier.On("PublishNotice", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down")).Once()

	svc := newTestService(archive, nil, notifier, CleanupConfig{Retention: time.Hour})

	notice, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, notice.Deleted)
}

func TestStartStopsOnCancel(t *testing.T) {
	archive := &mockArchive{}
	archive.On("Oldest", mock.Anything, mock.Anything, mock.Anything).Return([]database.ConsoleMessage{}, nil)

	svc := newTestService(archive, nil, nil, CleanupConfig{
		Retention:       time.Hour,
		CleanupInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	archive.AssertCalled(t, "Oldest", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoadCleanupConfig(t *testing.T) {
	t.Setenv("RETENTION_PERIOD", "48h")
	t.Setenv("RETENTION_DRY_RUN", "true")
	t.Setenv("RETENTION_BATCH_LIMIT", "12")

	cfg := LoadCleanupConfig()
	assert.Equal(t, 48*time.Hour, cfg.Retention)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 12, cfg.BatchLimit)
	assert.True(t, cfg.ExportBeforeDelete)
	assert.Equal(t, 15*time.Minute, cfg.CleanupInterval)
}
