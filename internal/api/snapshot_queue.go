package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/database"
	"github.com/birbparty/pylonkit/internal/telemetry"
	"github.com/birbparty/pylonkit/sdk"
)

// Snapshot job states
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

var (
	// ErrQueueFull is returned when the snapshot queue has no room
	ErrQueueFull = errors.New("snapshot queue is full")
	// ErrQueueClosed is returned after Shutdown
	ErrQueueClosed = errors.New("snapshot queue is closed")
)

// Snapshotter takes a namespace snapshot
type Snapshotter interface {
	Take(ctx context.Context, ns *sdk.Namespace) (*database.SnapshotRecord, error)
}

// SnapshotJob is the state of one queued snapshot
type SnapshotJob struct {
	ID           string     `json:"job_id"`
	DeploymentID string     `json:"deployment_id"`
	Namespace    string     `json:"namespace"`
	Status       string     `json:"status"`
	SnapshotID   int64      `json:"snapshot_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	QueuedAt     time.Time  `json:"queued_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// SnapshotQueueStats provides statistics about the snapshot queue
type SnapshotQueueStats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`
	WorkerCount   int `json:"worker_count"`
	TrackedJobs   int `json:"tracked_jobs"`
}

// snapshotRequest carries the traced context of the request that queued it
type snapshotRequest struct {
	ctx context.Context
	ns  *sdk.Namespace
	job string
}

// jobRetention is how long finished jobs stay queryable
const jobRetention = time.Hour

// SnapshotQueue runs namespace snapshots on a background worker pool
type SnapshotQueue struct {
	snapshotter Snapshotter
	queue       chan snapshotRequest
	workers     int
	timeout     time.Duration
	log         *logrus.Entry

	mu     sync.Mutex
	jobs   map[string]*SnapshotJob
	closed bool
	wg     sync.WaitGroup
}

// NewSnapshotQueue creates a snapshot queue and starts its workers
func NewSnapshotQueue(snapshotter Snapshotter, queueSize, workers int) *SnapshotQueue {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}

	q := &SnapshotQueue{
		snapshotter: snapshotter,
		queue:       make(chan snapshotRequest, queueSize),
		workers:     workers,
		timeout:     5 * time.Minute,
		log:         telemetry.Component("snapshot-queue"),
		jobs:        make(map[string]*SnapshotJob),
	}
	initializeQueueMetrics(queueSize)

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue queues a snapshot of ns. It never blocks: a full queue returns ErrQueueFull.
func (q *SnapshotQueue) Enqueue(ctx context.Context, ns *sdk.Namespace) (*SnapshotJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	q.pruneLocked(time.Now())

	job := &SnapshotJob{
		ID:           uuid.NewString(),
		DeploymentID: ns.DeploymentID(),
		Namespace:    ns.Name(),
		Status:       JobQueued,
		QueuedAt:     time.Now(),
	}

	select {
	case q.queue <- snapshotRequest{ctx: context.WithoutCancel(ctx), ns: ns, job: job.ID}:
		q.jobs[job.ID] = job
		snapshotQueueDepth.Set(float64(len(q.queue)))
		copied := *job
		return &copied, nil
	default:
		q.log.WithFields(logrus.Fields{
			"deployment_id": ns.DeploymentID(),
			"namespace":     ns.Name(),
		}).Warn("snapshot queue full, rejecting job")
		RecordSnapshotJob("queue_full")
		return nil, ErrQueueFull
	}
}

// Job returns a copy of the job with the given ID
func (q *SnapshotQueue) Job(id string) (SnapshotJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return SnapshotJob{}, false
	}
	return *job, true
}

// worker processes snapshot requests from the queue
func (q *SnapshotQueue) worker(id int) {
	defer q.wg.Done()

	for req := range q.queue {
		q.setStatus(req.job, JobRunning, nil, nil)

		span, ctx := tracer.StartSpanFromContext(req.ctx, "kv.snapshot",
			tracer.ServiceName("pylonkit-snapshot-queue"),
			tracer.ResourceName("Take"),
			tracer.Tag("deployment.id", req.ns.DeploymentID()),
			tracer.Tag("kv.namespace", req.ns.Name()),
		)

		ctx, cancel := context.WithTimeout(ctx, q.timeout)
		rec, err := q.snapshotter.Take(ctx, req.ns)
		cancel()

		span.Finish(tracer.WithError(err))

		if err != nil {
			q.log.WithError(err).WithFields(logrus.Fields{
				"worker":    id,
				"job_id":    req.job,
				"namespace": req.ns.Name(),
			}).Error("snapshot job failed")
			RecordSnapshotJob("failed")
		} else {
			RecordSnapshotJob("succeeded")
		}
		q.setStatus(req.job, "", rec, err)

		snapshotQueueDepth.Set(float64(len(q.queue)))
	}
}

// setStatus moves a job to status, or to its final state when status is empty
func (q *SnapshotQueue) setStatus(id, status string, rec *database.SnapshotRecord, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return
	}
	if status != "" {
		job.Status = status
		return
	}

	now := time.Now()
	job.FinishedAt = &now
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}
	job.Status = JobSucceeded
	if rec != nil {
		job.SnapshotID = rec.ID
	}
}

// pruneLocked forgets jobs that finished more than jobRetention ago
func (q *SnapshotQueue) pruneLocked(now time.Time) {
	for id, job := range q.jobs {
		if job.FinishedAt != nil && now.Sub(*job.FinishedAt) > jobRetention {
			delete(q.jobs, id)
		}
	}
}

// QueueDepth returns the current queue depth
func (q *SnapshotQueue) QueueDepth() int {
	return len(q.queue)
}

// Stats returns current statistics
func (q *SnapshotQueue) Stats() SnapshotQueueStats {
	q.mu.Lock()
	tracked := len(q.jobs)
	q.mu.Unlock()

	return SnapshotQueueStats{
		QueueDepth:    len(q.queue),
		QueueCapacity: cap(q.queue),
		WorkerCount:   q.workers,
		TrackedJobs:   tracked,
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish
func (q *SnapshotQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	q.wg.Wait()
}
