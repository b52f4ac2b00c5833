// Package relay follows deployment console streams and fans every message
// out to the console archive, JetStream and the live status store.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/birbparty/pylonkit/internal/cache"
	"github.com/birbparty/pylonkit/internal/queue"
	"github.com/birbparty/pylonkit/internal/telemetry"
	"github.com/birbparty/pylonkit/sdk"
)

// Publisher publishes console events to the message bus
type Publisher interface {
	PublishConsole(ctx context.Context, ev *queue.ConsoleEvent) error
}

// DLQConsumer replays dead-lettered archive batches
type DLQConsumer interface {
	ProcessDLQ(ctx context.Context, retry queue.RetryFunc) error
}

// Relay owns one console stream per configured deployment
type Relay struct {
	config    *Config
	resolver  sdk.DeploymentResolver
	archiver  *Archiver
	publisher Publisher
	status    StatusRecorder
	dlq       DLQConsumer
	metrics   *Metrics
	batcher   *Batcher
	log       *logrus.Entry

	mu      sync.Mutex
	streams map[string]*sdk.Stream

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// Option configures optional relay outputs
type Option func(*Relay)

// WithPublisher publishes every message to the bus
func WithPublisher(p Publisher) Option {
	return func(r *Relay) { r.publisher = p }
}

// WithStatus records live state per deployment
func WithStatus(s StatusRecorder) Option {
	return func(r *Relay) { r.status = s }
}

// WithDLQ replays dead-lettered batches while the relay runs
func WithDLQ(d DLQConsumer) Option {
	return func(r *Relay) { r.dlq = d }
}

// New creates a relay. The resolver is normally an *sdk.Client.
func New(config *Config, resolver sdk.DeploymentResolver, archiver *Archiver, metrics *Metrics, opts ...Option) *Relay {
	r := &Relay{
		config:    config,
		resolver:  resolver,
		archiver:  archiver,
		metrics:   metrics,
		batcher:   NewBatcher(config.BatchSize),
		log:       telemetry.Component("relay").WithField("relay_id", config.RelayID),
		streams:   make(map[string]*sdk.Stream),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the streams and runs until ctx is done or Stop is called.
// A deployment whose first connect fails is retried by the supervisor.
func (r *Relay) Start(ctx context.Context) error {
	defer close(r.stoppedCh)

	r.log.WithField("deployments", r.config.Deployments).Info("relay starting")

	for _, id := range r.config.Deployments {
		stream, err := r.newStream(id)
		if err != nil {
			return fmt.Errorf("failed to create stream for %s: %w", id, err)
		}
		r.mu.Lock()
		r.streams[id] = stream
		r.mu.Unlock()

		r.setState(ctx, id, cache.StateConnecting)
		if err := stream.Connect(ctx); err != nil {
			r.log.WithError(err).WithField("deployment_id", id).Warn("initial connect failed")
			r.setState(ctx, id, cache.StateClosed)
		}
	}

	if r.dlq != nil {
		go func() {
			if err := r.dlq.ProcessDLQ(ctx, r.archiver.Retry); err != nil && ctx.Err() == nil {
				r.log.WithError(err).Error("DLQ processor stopped")
			}
		}()
	}

	batchTicker := time.NewTicker(r.config.BatchTimeout)
	defer batchTicker.Stop()

	superviseTicker := time.NewTicker(r.config.SuperviseInterval)
	defer superviseTicker.Stop()

	metricsTicker := time.NewTicker(r.config.MetricsInterval)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.shutdown()
		case <-r.stopCh:
			return r.shutdown()
		case <-batchTicker.C:
			r.flushPending(ctx)
		case <-superviseTicker.C:
			r.supervise(ctx)
		case <-metricsTicker.C:
			r.reportMetrics()
		}
	}
}

// Stop gracefully stops the relay and waits for Start to return
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.stoppedCh
}

// Streams returns the state of every stream
func (r *Relay) Streams() map[string]sdk.StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]sdk.StreamState, len(r.streams))
	for id, s := range r.streams {
		states[id] = s.State()
	}
	return states
}

func (r *Relay) newStream(deploymentID string) (*sdk.Stream, error) {
	strategy := &sdk.ExponentialBackoffStrategy{
		InitialInterval: r.config.ReconnectDelay,
		MaxInterval:     r.config.MaxReconnectDelay,
		Multiplier:      2.0,
		Jitter:          0.2,
	}

	stream, err := sdk.NewStream(r.resolver, deploymentID,
		sdk.WithReconnectStrategy(strategy),
		sdk.WithReconnectOnClose(r.config.ReconnectOnClose),
		sdk.WithStreamLogger(r.log.WithField("deployment_id", deploymentID)),
		sdk.WithStreamObserver(sdk.NewCompositeObserver(
			telemetry.NewPrometheusObserver(),
			&statusObserver{relay: r},
		)),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.OnMessage(func(payload json.RawMessage) {
		r.handleMessage(deploymentID, payload)
	}); err != nil {
		return nil, err
	}
	return stream, nil
}

// handleMessage runs on the stream's read goroutine
func (r *Relay) handleMessage(deploymentID string, payload json.RawMessage) {
	ev := queue.NewConsoleEvent(deploymentID, payload, time.Now())
	r.metrics.RecordReceived()

	if r.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
		if err := r.publisher.PublishConsole(ctx, ev); err != nil {
			r.metrics.RecordError("publish_error")
			r.log.WithError(err).WithField("deployment_id", deploymentID).Warn("failed to publish console message")
		} else {
			r.metrics.RecordPublished()
		}
		cancel()
	}

	if batch := r.batcher.Add(ev); batch != nil {
		r.archive(context.Background(), batch)
	}
}

func (r *Relay) archive(parent context.Context, batch *Batch) {
	ctx, cancel := context.WithTimeout(parent, r.config.ArchiveTimeout)
	defer cancel()
	if err := r.archiver.Archive(ctx, batch); err != nil {
		r.log.WithError(err).WithField("deployment_id", batch.DeploymentID).
			Errorf("dropped %d console messages", batch.Size())
	}
}

func (r *Relay) flushPending(ctx context.Context) {
	for _, batch := range r.batcher.Drain() {
		r.archive(ctx, batch)
	}
	telemetry.UpdateQueueDepth("relay_pending", r.batcher.Pending())
}

// supervise reconnects streams that went idle after a failed reconnect
func (r *Relay) supervise(ctx context.Context) {
	r.mu.Lock()
	idle := make(map[string]*sdk.Stream)
	for id, s := range r.streams {
		if s.State() == sdk.StateIdle {
			idle[id] = s
		}
	}
	r.mu.Unlock()

	for id, s := range idle {
		r.setState(ctx, id, cache.StateConnecting)
		connectCtx, cancel := context.WithTimeout(ctx, r.config.ArchiveTimeout)
		err := s.Connect(connectCtx)
		cancel()
		if err != nil {
			r.log.WithError(err).WithField("deployment_id", id).Warn("supervised reconnect failed")
			r.setState(ctx, id, cache.StateClosed)
		}
	}
}

func (r *Relay) setState(ctx context.Context, deploymentID, state string) {
	if r.status == nil {
		return
	}
	if err := r.status.SetState(ctx, deploymentID, state); err != nil {
		r.log.WithError(err).Debug("failed to record relay state")
	}
}

func (r *Relay) reportMetrics() {
	stats := r.metrics.GetStats()
	r.log.WithFields(logrus.Fields{
		"received":  stats["messages_received"],
		"archived":  stats["messages_archived"],
		"published": stats["messages_published"],
		"failed":    stats["messages_failed"],
		"open":      stats["streams_open"],
	}).Info("relay metrics")
}

func (r *Relay) shutdown() error {
	r.log.Info("relay shutting down")

	r.mu.Lock()
	streams := make([]*sdk.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	for _, s := range streams {
		if err := s.Close(); err != nil {
			r.log.WithError(err).WithField("deployment_id", s.DeploymentID()).Warn("failed to close stream")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.flushPending(ctx)

	for _, s := range streams {
		r.setState(ctx, s.DeploymentID(), cache.StateClosed)
	}

	r.reportMetrics()
	return nil
}

// statusObserver mirrors stream lifecycle into the status store
type statusObserver struct {
	sdk.NoopObserver
	relay *Relay
}

func (o *statusObserver) OnStreamOpen(deploymentID string) {
	o.relay.metrics.SetOpen(deploymentID, true)
	o.relay.setState(context.Background(), deploymentID, cache.StateOpen)
}

func (o *statusObserver) OnStreamClose(deploymentID string, code int) {
	o.relay.metrics.SetOpen(deploymentID, false)
	o.relay.setState(context.Background(), deploymentID, cache.StateClosed)
}

func (o *statusObserver) OnStreamError(deploymentID string, err error) {
	o.relay.metrics.RecordError("stream_error")
	if o.relay.status == nil {
		return
	}
	if serr := o.relay.status.AddError(context.Background(), deploymentID); serr != nil {
		o.relay.log.WithError(serr).Debug("failed to record relay error")
	}
}

func (o *statusObserver) OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration) {
	o.relay.setState(context.Background(), deploymentID, cache.StateReconnecting)
}
