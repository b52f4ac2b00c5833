package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/queue"
)

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

// memArchive is a concurrency-safe ConsoleArchive that dedupes by message ID
type memArchive struct {
	mu       sync.Mutex
	messages []database.ConsoleMessage
	seen     map[string]bool
	fail     bool
}

func newMemArchive() *memArchive {
	return &memArchive{seen: make(map[string]bool)}
}

func (a *memArchive) InsertBatch(ctx context.Context, messages []database.ConsoleMessage) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return 0, errors.New("archive unavailable")
	}
	n := 0
	for _, m := range messages {
		if a.seen[m.MessageID] {
			continue
		}
		a.seen[m.MessageID] = true
		a.messages = append(a.messages, m)
		n++
	}
	return n, nil
}

func (a *memArchive) Recent(ctx context.Context, q database.MessageQuery) ([]database.ConsoleMessage, error) {
	return nil, nil
}

func (a *memArchive) Oldest(ctx context.Context, cutoff time.Time, limit int) ([]database.ConsoleMessage, error) {
	return nil, nil
}

func (a *memArchive) DeleteUpTo(ctx context.Context, cutoff time.Time, maxID int64) (int, error) {
	return 0, nil
}

func (a *memArchive) Count(ctx context.Context, deploymentID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, m := range a.messages {
		if m.DeploymentID == deploymentID {
			n++
		}
	}
	return n, nil
}

func (a *memArchive) setFail(fail bool) {
	a.mu.Lock()
	a.fail = fail
	a.mu.Unlock()
}

func (a *memArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

type fakeDLQ struct {
	mu      sync.Mutex
	batches []*queue.ArchiveBatch
	err     error
}

func (d *fakeDLQ) SendArchiveBatch(ctx context.Context, batch *queue.ArchiveBatch, cause error, retries int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.batches = append(d.batches, batch)
	return nil
}

func (d *fakeDLQ) sent() []*queue.ArchiveBatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*queue.ArchiveBatch(nil), d.batches...)
}

type fakeStatus struct {
	mu       sync.Mutex
	states   map[string][]string
	messages map[string]int
	errors   map[string]int
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{
		states:   make(map[string][]string),
		messages: make(map[string]int),
		errors:   make(map[string]int),
	}
}

func (s *fakeStatus) SetState(ctx context.Context, deploymentID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[deploymentID] = append(s.states[deploymentID], state)
	return nil
}

func (s *fakeStatus) AddMessages(ctx context.Context, deploymentID string, n int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[deploymentID] += n
	return nil
}

func (s *fakeStatus) AddError(ctx context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[deploymentID]++
	return nil
}

func (s *fakeStatus) last(deploymentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.states[deploymentID]
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1]
}

func (s *fakeStatus) count(deploymentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[deploymentID]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*queue.ConsoleEvent
}

func (p *fakePublisher) PublishConsole(ctx context.Context, ev *queue.ConsoleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
