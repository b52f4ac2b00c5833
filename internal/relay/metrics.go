package relay

import (
	"sync"
	"time"
)

// Metrics holds in-process relay counters reported by the health endpoint
type Metrics struct {
	mu sync.RWMutex

	messagesReceived  int64
	messagesArchived  int64
	messagesPublished int64
	messagesFailed    int64

	batchesProcessed    int64
	batchProcessingTime time.Duration
	avgBatchSize        float64

	errorCounts map[string]int64

	startTime       time.Time
	lastMessageAt   time.Time
	openDeployments map[string]bool
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		errorCounts:     make(map[string]int64),
		openDeployments: make(map[string]bool),
		startTime:       time.Now(),
	}
}

// RecordReceived records a console message taken off a stream
func (m *Metrics) RecordReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
	m.lastMessageAt = time.Now()
}

// RecordPublished records a message published to JetStream
func (m *Metrics) RecordPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesPublished++
}

// RecordError records an error by type
func (m *Metrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCounts[errorType]++
}

// RecordBatch records an archive batch. failed counts the messages that
// went to the DLQ instead.
func (m *Metrics) RecordBatch(size, archived, failed int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchesProcessed++
	m.batchProcessingTime += duration
	m.messagesArchived += int64(archived)
	m.messagesFailed += int64(failed)
	m.avgBatchSize += (float64(size) - m.avgBatchSize) / float64(m.batchesProcessed)
}

// SetOpen marks a deployment's stream as open or not
func (m *Metrics) SetOpen(deploymentID string, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openDeployments[deploymentID] = open
}

// GetStats returns current metrics
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sinceLast := time.Duration(0)
	if !m.lastMessageAt.IsZero() {
		sinceLast = time.Since(m.lastMessageAt)
	}

	avgBatchMs := float64(0)
	if m.batchesProcessed > 0 {
		avgBatchMs = float64(m.batchProcessingTime.Milliseconds()) / float64(m.batchesProcessed)
	}

	open := 0
	for _, isOpen := range m.openDeployments {
		if isOpen {
			open++
		}
	}

	errorCounts := make(map[string]int64, len(m.errorCounts))
	for k, v := range m.errorCounts {
		errorCounts[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds":      time.Since(m.startTime).Seconds(),
		"messages_received":   m.messagesReceived,
		"messages_archived":   m.messagesArchived,
		"messages_published":  m.messagesPublished,
		"messages_failed":     m.messagesFailed,
		"batches_processed":   m.batchesProcessed,
		"avg_batch_size":      m.avgBatchSize,
		"avg_batch_time_ms":   avgBatchMs,
		"error_counts":        errorCounts,
		"last_message_ago_ms": sinceLast.Milliseconds(),
		"streams_open":        open,
		"streams_total":       len(m.openDeployments),
	}
}

// IsHealthy reports whether at least one stream is open, or none are known yet
func (m *Metrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.openDeployments) == 0 {
		return true
	}
	for _, isOpen := range m.openDeployments {
		if isOpen {
			return true
		}
	}
	return false
}
