package snapshot

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/storage"
	"github.com/birbparty/pylonkit/sdk"
	"github.com/birbparty/pylonkit/sdk/testdata"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (m *memObjects) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.meta[key] = metadata
	return nil
}

func (m *memObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Record(ctx context.Context, rec *database.SnapshotRecord) error {
	args := m.Called(ctx, rec)
	if args.Error(0) == nil {
		rec.ID = 42
		rec.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *mockIndex) List(ctx context.Context, deploymentID, namespace string, limit int) ([]database.SnapshotRecord, error) {
	args := m.Called(ctx, deploymentID, namespace, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.SnapshotRecord), args.Error(1)
}

func (m *mockIndex) Get(ctx context.Context, id int64) (*database.SnapshotRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.SnapshotRecord), args.Error(1)
}

func newNamespace(t *testing.T, suite *testdata.TestSuite, name string) *sdk.Namespace {
	t.Helper()
	client, err := sdk.NewClient(sdk.DefaultConfig().WithBaseURL(suite.BaseURL))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ns, err := client.Namespace(suite.DeploymentID, name)
	require.NoError(t, err)
	return ns
}

func TestTakeAndRestore(t *testing.T) {
	suite := testdata.NewTestSuite(t)
	suite.Platform.SeedJSON(suite.DeploymentID, "settings", "theme", map[string]string{"mode": "dark"})
	suite.Platform.SeedJSON(suite.DeploymentID, "settings", "limit", 10)
	suite.Platform.SeedBytes(suite.DeploymentID, "settings", "motd", []byte("hello"))

	objects := newMemObjects()
	index := &mockIndex{}
	svc := NewService(objects, index)

	var recorded *database.SnapshotRecord
	index.On("Record", mock.Anything, mock.AnythingOfType("*database.SnapshotRecord")).
		Run(func(args mock.Arguments) { recorded = args.Get(1).(*database.SnapshotRecord) }).
		Return(nil).Once()

	rec, err := svc.Take(suite.Context, newNamespace(t, suite, "settings"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, 3, rec.ItemCount)
	assert.Same(t, recorded, rec)
	assert.Contains(t, objects.objects, rec.ObjectKey)
	assert.Equal(t, "3", objects.meta[rec.ObjectKey]["item-count"])

	index.On("Get", mock.Anything, int64(42)).Return(rec, nil)

	target := newNamespace(t, suite, "restored")
	result, err := svc.Restore(suite.Context, target, 42, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Restored)

	assert.Equal(t, []string{"theme", "limit", "motd"}, suite.Platform.Keys(suite.DeploymentID, "restored"))
	var theme map[string]string
	found, err := target.Get(suite.Context, "theme", &theme)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dark", theme["mode"])

	motd, found, err := target.GetBytes(suite.Context, "motd")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), motd)

	index.AssertExpectations(t)
}

func TestRestoreIfNotExistsKeepsCurrentValues(t *testing.T) {
	suite := testdata.NewTestSuite(t)
	suite.Platform.SeedJSON(suite.DeploymentID, "ns", "a", 1)

	objects := newMemObjects()
	data, err := storage.EncodeSnapshot([]sdk.Item{
		{Key: "a", Value: []byte(`100`)},
		{Key: "b", Value: []byte(`200`)},
	})
	require.NoError(t, err)
	require.NoError(t, objects.Put(context.Background(), "snap.jsonl", data, nil))

	index := &mockIndex{}
	index.On("Get", mock.Anything, int64(7)).Return(&database.SnapshotRecord{
		ID: 7, DeploymentID: suite.DeploymentID, Namespace: "ns", ObjectKey: "snap.jsonl",
	}, nil)

	ns := newNamespace(t, suite, "ns")
	_, err = NewService(objects, index).Restore(suite.Context, ns, 7, RestoreOptions{IfNotExists: true})
	require.NoError(t, err)

	var a, b int
	_, err = ns.Get(suite.Context, "a", &a)
	require.NoError(t, err)
	_, err = ns.Get(suite.Context, "b", &b)
	require.NoError(t, err)
	assert.Equal(t, 1, a)
	assert.Equal(t, 200, b)
}

func TestRestoreSkipsExpiredEntries(t *testing.T) {
	suite := testdata.NewTestSuite(t)

	past := time.Now().Add(-time.Hour)
	objects := newMemObjects()
	data, err := storage.EncodeSnapshot([]sdk.Item{
		{Key: "old", Value: []byte(`1`), ExpiresAt: &past},
		{Key: "new", Value: []byte(`2`)},
	})
	require.NoError(t, err)
	require.NoError(t, objects.Put(context.Background(), "k", data, nil))

	index := &mockIndex{}
	index.On("Get", mock.Anything, int64(1)).Return(&database.SnapshotRecord{
		ID: 1, DeploymentID: suite.DeploymentID, ObjectKey: "k",
	}, nil)

	result, err := NewService(objects, index).Restore(suite.Context, newNamespace(t, suite, "ns"), 1, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, []string{"new"}, suite.Platform.Keys(suite.DeploymentID, "ns"))
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	suite := testdata.NewTestSuite(t)
	index := &mockIndex{}
	index.On("Get", mock.Anything, int64(9)).Return(nil, database.ErrNotFound)
	index.On("Get", mock.Anything, int64(10)).Return(&database.SnapshotRecord{ID: 10, DeploymentID: "someone-else"}, nil)

	svc := NewService(newMemObjects(), index)
	ns := newNamespace(t, suite, "ns")

	_, err := svc.Restore(suite.Context, ns, 9, RestoreOptions{})
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = svc.Restore(suite.Context, ns, 10, RestoreOptions{})
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestTakeFailsWhenPlatformFails(t *testing.T) {
	suite := testdata.NewTestSuite(t)
	suite.Platform.WithErrorResponse("GET /deployments/"+suite.DeploymentID+"/kv/namespaces/ns/items", 500, "boom")

	index := &mockIndex{}
	_, err := NewService(newMemObjects(), index).Take(suite.Context, newNamespace(t, suite, "ns"))
	assert.Error(t, err)
	index.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}
