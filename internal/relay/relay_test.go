package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birbparty/pylonkit/internal/cache"
	"github.com/birbparty/pylonkit/sdk"
	"github.com/birbparty/pylonkit/sdk/testdata"
)

func testConfig(deployments ...string) *Config {
	return &Config{
		RelayID:           "test",
		Deployments:       deployments,
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
		ReconnectOnClose:  true,
		SuperviseInterval: 50 * time.Millisecond,
		BatchSize:         2,
		BatchTimeout:      50 * time.Millisecond,
		ArchiveTimeout:    time.Second,
		PublishTimeout:    time.Second,
		MetricsInterval:   time.Hour,
	}
}

type relayHarness struct {
	suite     *testdata.TestSuite
	relay     *Relay
	archive   *memArchive
	publisher *fakePublisher
	status    *fakeStatus
	done      chan error
}

func startRelay(t *testing.T) *relayHarness {
	t.Helper()
	suite := testdata.NewTestSuite(t)

	client, err := sdk.NewClient(sdk.DefaultConfig().WithBaseURL(suite.BaseURL))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	h := &relayHarness{
		suite:     suite,
		archive:   newMemArchive(),
		publisher: &fakePublisher{},
		status:    newFakeStatus(),
		done:      make(chan error, 1),
	}
	metrics := NewMetrics()
	archiver := NewArchiver(h.archive, &fakeDLQ{}, h.status, metrics)
	h.relay = New(testConfig(suite.DeploymentID), client, archiver, metrics,
		WithPublisher(h.publisher),
		WithStatus(h.status),
	)

	go func() { h.done <- h.relay.Start(context.Background()) }()
	t.Cleanup(h.stop)

	testdata.RequireEventuallyConsistent(t, func() bool {
		return suite.Platform.OpenSockets(suite.DeploymentID) == 1
	}, 5*time.Second, 10*time.Millisecond, "stream never opened")
	return h
}

func (h *relayHarness) stop() {
	select {
	case <-h.relay.stoppedCh:
		return
	default:
	}
	h.relay.Stop()
}

func TestRelayArchivesAndPublishes(t *testing.T) {
	h := startRelay(t)
	dep := h.suite.DeploymentID

	for i := 0; i < 5; i++ {
		h.suite.Platform.SendMessage(dep, map[string]int{"n": i})
	}

	testdata.RequireEventuallyConsistent(t, func() bool {
		return h.archive.len() == 5 && h.publisher.len() == 5
	}, 5*time.Second, 10*time.Millisecond, "messages not relayed")

	assert.Equal(t, 5, h.status.count(dep))
	assert.Equal(t, cache.StateOpen, h.status.last(dep))
	assert.Equal(t, sdk.StateOpen, h.relay.Streams()[dep])

	h.relay.Stop()
	require.NoError(t, <-h.done)
	assert.Equal(t, cache.StateClosed, h.status.last(dep))
	assert.Equal(t, sdk.StateClosed, h.relay.Streams()[dep])
}

func TestRelayRecoversAfterDrop(t *testing.T) {
	h := startRelay(t)
	dep := h.suite.DeploymentID

	h.suite.Platform.Drop(dep)

	testdata.RequireEventuallyConsistent(t, func() bool {
		return h.suite.Platform.Dials(dep) >= 2 && h.suite.Platform.OpenSockets(dep) == 1
	}, 5*time.Second, 10*time.Millisecond, "stream did not reconnect")

	h.suite.Platform.SendMessage(dep, "after drop")
	testdata.RequireEventuallyConsistent(t, func() bool {
		return h.archive.len() == 1
	}, 5*time.Second, 10*time.Millisecond, "message after reconnect not archived")

	h.status.mu.Lock()
	states := append([]string(nil), h.status.states[dep]...)
	h.status.mu.Unlock()
	assert.Contains(t, states, cache.StateReconnecting)
}

func TestRelayFlushesPartialBatch(t *testing.T) {
	h := startRelay(t)

	h.suite.Platform.SendMessage(h.suite.DeploymentID, "only one")
	testdata.RequireEventuallyConsistent(t, func() bool {
		return h.publisher.len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.relay.Stop()
	require.NoError(t, <-h.done)
	assert.Equal(t, 1, h.archive.len())
}
