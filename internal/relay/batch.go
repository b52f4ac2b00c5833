package relay

import (
	"sync"
	"time"

	"github.com/birbparty/pylonkit/internal/queue"
)

// Batch is a run of console events of one deployment awaiting archive
type Batch struct {
	DeploymentID string
	Events       []queue.ConsoleEvent
	StartTime    time.Time
}

// Size returns the number of events in the batch
func (b *Batch) Size() int {
	return len(b.Events)
}

// Batcher groups events per deployment until a batch is full or drained
type Batcher struct {
	mu      sync.Mutex
	size    int
	pending map[string]*Batch
}

// NewBatcher creates a batcher that releases batches of size events
func NewBatcher(size int) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{size: size, pending: make(map[string]*Batch)}
}

// Add appends ev to its deployment's batch and returns the batch once it is full
func (b *Batcher) Add(ev *queue.ConsoleEvent) *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.pending[ev.DeploymentID]
	if batch == nil {
		batch = &Batch{
			DeploymentID: ev.DeploymentID,
			Events:       make([]queue.ConsoleEvent, 0, b.size),
			StartTime:    time.Now(),
		}
		b.pending[ev.DeploymentID] = batch
	}
	batch.Events = append(batch.Events, *ev)

	if len(batch.Events) < b.size {
		return nil
	}
	delete(b.pending, ev.DeploymentID)
	return batch
}

// Drain removes and returns every non-empty pending batch
func (b *Batcher) Drain() []*Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	batches := make([]*Batch, 0, len(b.pending))
	for id, batch := range b.pending {
		if len(batch.Events) > 0 {
			batches = append(batches, batch)
		}
		delete(b.pending, id)
	}
	return batches
}

// Pending returns the number of buffered events
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.pending {
		n += len(batch.Events)
	}
	return n
}
