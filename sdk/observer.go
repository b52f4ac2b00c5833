package sdk

import (
	"sync"
	"time"
)

// Observer provides hooks for monitoring SDK operations.
// Implement this interface to track request latencies, stream health and
// reconnect behavior, or to integrate with your observability stack.
//
// Observer methods are called synchronously from request and stream
// goroutines and should be fast and non-blocking.
//
// Example implementation:
//
//	type LogObserver struct {
//	    logger *log.Logger
//	}
//
//	func (o *LogObserver) OnRequestEnd(method, path string, duration time.Duration, err error) {
//	    o.logger.Printf("%s %s took %v (err=%v)", method, path, duration, err)
//	}
//
//	func (o *LogObserver) OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration) {
//	    o.logger.Printf("deployment %s: reconnect #%d in %v", deploymentID, attempt, delay)
//	}
//
//	// ... remaining methods
type Observer interface {
	// OnRequestStart is called when a REST request starts.
	OnRequestStart(method, path string)

	// OnRequestEnd is called when a REST request completes.
	// err is nil on success.
	OnRequestEnd(method, path string, duration time.Duration, err error)

	// OnStreamOpen is called each time a stream socket opens.
	OnStreamOpen(deploymentID string)

	// OnStreamClose is called each time a stream socket closes.
	OnStreamClose(deploymentID string, code int)

	// OnStreamError is called when a stream socket fails or a frame cannot be decoded.
	OnStreamError(deploymentID string, err error)

	// OnStreamMessage is called for every decoded console message.
	OnStreamMessage(deploymentID string)

	// OnReconnectScheduled is called when a stream schedules a reconnect.
	// attempt starts at 1 and resets after a successful open.
	OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration)
}

// NoopObserver is a no-op implementation of Observer that does nothing.
// This is the default observer used when none is configured.
type NoopObserver struct{}

// OnRequestStart does nothing
func (n *NoopObserver) OnRequestStart(method, path string) {}

// OnRequestEnd does nothing
func (n *NoopObserver) OnRequestEnd(method, path string, duration time.Duration, err error) {}

// OnStreamOpen does nothing
func (n *NoopObserver) OnStreamOpen(deploymentID string) {}

// OnStreamClose does nothing
func (n *NoopObserver) OnStreamClose(deploymentID string, code int) {}

// OnStreamError does nothing
func (n *NoopObserver) OnStreamError(deploymentID string, err error) {}

// OnStreamMessage does nothing
func (n *NoopObserver) OnStreamMessage(deploymentID string) {}

// OnReconnectScheduled does nothing
func (n *NoopObserver) OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration) {}

// MetricsCollector is a simple in-memory metrics implementation.
// It collects request counts, latencies and errors per endpoint, and
// opens, closes, errors, messages and reconnects per deployment stream.
//
// It stores all data in memory and is primarily intended for debugging and
// testing. For production, export metrics through your monitoring system.
//
// Example:
//
//	metrics := sdk.NewMetricsCollector()
//	client, _ := sdk.NewClient(sdk.DefaultConfig().WithObserver(metrics))
//
//	snapshot := metrics.GetMetrics()
//	fmt.Printf("reconnects: %v\n", snapshot["stream_reconnects"])
type MetricsCollector struct {
	mu            sync.RWMutex
	requestCount  map[string]int64
	latencies     map[string][]time.Duration
	errorCount    map[string]int64
	streamOpens   map[string]int64
	streamCloses  map[string]int64
	streamErrors  map[string]int64
	streamMsgs    map[string]int64
	reconnects    map[string]int64
	lastCloseCode map[string]int
}

// NewMetricsCollector creates a new metrics collector.
// The collector is thread-safe and can be shared by a client and its streams.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		requestCount:  make(map[string]int64),
		latencies:     make(map[string][]time.Duration),
		errorCount:    make(map[string]int64),
		streamOpens:   make(map[string]int64),
		streamCloses:  make(map[string]int64),
		streamErrors:  make(map[string]int64),
		streamMsgs:    make(map[string]int64),
		reconnects:    make(map[string]int64),
		lastCloseCode: make(map[string]int),
	}
}

// OnRequestStart increments request count
func (m *MetricsCollector) OnRequestStart(method, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[method+" "+path]++
}

// OnRequestEnd records request duration and errors
func (m *MetricsCollector) OnRequestEnd(method, path string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + path
	m.latencies[key] = append(m.latencies[key], duration)
	if err != nil {
		m.errorCount[key]++
	}
}

// OnStreamOpen counts socket opens
func (m *MetricsCollector) OnStreamOpen(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamOpens[deploymentID]++
}

// OnStreamClose counts socket closes and remembers the last close code
func (m *MetricsCollector) OnStreamClose(deploymentID string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamCloses[deploymentID]++
	m.lastCloseCode[deploymentID] = code
}

// OnStreamError counts stream errors
func (m *MetricsCollector) OnStreamError(deploymentID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErrors[deploymentID]++
}

// OnStreamMessage counts messages
func (m *MetricsCollector) OnStreamMessage(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamMsgs[deploymentID]++
}

// OnReconnectScheduled counts scheduled reconnects
func (m *MetricsCollector) OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects[deploymentID]++
}

// GetMetrics returns a snapshot of current metrics.
// The returned map is a copy and safe to read without locks.
//
// The metrics include:
//   - "requests", "latencies", "errors": keyed by "METHOD /path"
//   - "stream_opens", "stream_closes", "stream_errors", "stream_messages",
//     "stream_reconnects", "stream_last_close_code": keyed by deployment ID
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latenciesCopy := make(map[string][]time.Duration, len(m.latencies))
	for k, v := range m.latencies {
		latenciesCopy[k] = append([]time.Duration(nil), v...)
	}

	closeCodes := make(map[string]int, len(m.lastCloseCode))
	for k, v := range m.lastCloseCode {
		closeCodes[k] = v
	}

	return map[string]interface{}{
		"requests":               copyCounts(m.requestCount),
		"latencies":              latenciesCopy,
		"errors":                 copyCounts(m.errorCount),
		"stream_opens":           copyCounts(m.streamOpens),
		"stream_closes":          copyCounts(m.streamCloses),
		"stream_errors":          copyCounts(m.streamErrors),
		"stream_messages":        copyCounts(m.streamMsgs),
		"stream_reconnects":      copyCounts(m.reconnects),
		"stream_last_close_code": closeCodes,
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CompositeObserver fans every callback out to several observers in order.
// A panicking observer is recovered so the others still run.
//
// Example:
//
//	observer := sdk.NewCompositeObserver(
//	    sdk.NewMetricsCollector(),
//	    telemetry.NewPrometheusObserver(),
//	)
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an observer that delegates to multiple observers.
func NewCompositeObserver(observers ...Observer) Observer {
	return &CompositeObserver{observers: observers}
}

func (c *CompositeObserver) each(fn func(Observer)) {
	for _, obs := range c.observers {
		func() {
			defer func() {
				_ = recover()
			}()
			fn(obs)
		}()
	}
}

// OnRequestStart notifies all observers
func (c *CompositeObserver) OnRequestStart(method, path string) {
	c.each(func(o Observer) { o.OnRequestStart(method, path) })
}

// OnRequestEnd notifies all observers
func (c *CompositeObserver) OnRequestEnd(method, path string, duration time.Duration, err error) {
	c.each(func(o Observer) { o.OnRequestEnd(method, path, duration, err) })
}

// OnStreamOpen notifies all observers
func (c *CompositeObserver) OnStreamOpen(deploymentID string) {
	c.each(func(o Observer) { o.OnStreamOpen(deploymentID) })
}

// OnStreamClose notifies all observers
func (c *CompositeObserver) OnStreamClose(deploymentID string, code int) {
	c.each(func(o Observer) { o.OnStreamClose(deploymentID, code) })
}

// OnStreamError notifies all observers
func (c *CompositeObserver) OnStreamError(deploymentID string, err error) {
	c.each(func(o Observer) { o.OnStreamError(deploymentID, err) })
}

// OnStreamMessage notifies all observers
func (c *CompositeObserver) OnStreamMessage(deploymentID string) {
	c.each(func(o Observer) { o.OnStreamMessage(deploymentID) })
}

// OnReconnectScheduled notifies all observers
func (c *CompositeObserver) OnReconnectScheduled(deploymentID string, attempt int, delay time.Duration) {
	c.each(func(o Observer) { o.OnReconnectScheduled(deploymentID, attempt, delay) })
}
