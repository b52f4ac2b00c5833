package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

var (
	metricsOnce sync.Once
	promOnce    sync.Once

	// Platform REST metrics
	platformRequestsTotal   *prometheus.CounterVec
	platformRequestDuration *prometheus.HistogramVec

	// Console stream metrics
	streamOpensTotal      *prometheus.CounterVec
	streamClosesTotal     *prometheus.CounterVec
	streamErrorsTotal     *prometheus.CounterVec
	streamMessagesTotal   *prometheus.CounterVec
	streamReconnectsTotal *prometheus.CounterVec
	streamReconnectDelay  *prometheus.HistogramVec
	streamsConnected      prometheus.Gauge

	// KV metrics
	kvOperationDuration *prometheus.HistogramVec
	snapshotItemsTotal  *prometheus.CounterVec

	// Gateway API metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Relay metrics
	messagesProcessedTotal    *prometheus.CounterVec
	messageProcessingDuration *prometheus.HistogramVec
	queueDepth                *prometheus.GaugeVec
	batchSize                 *prometheus.HistogramVec
	dlqMessagesTotal          *prometheus.CounterVec

	// Process metrics
	serviceInfo *prometheus.GaugeVec

	meterProvider *sdkmetric.MeterProvider
	poolOnce      sync.Once
)

// ArchivePoolStats reports console archive pool usage
type ArchivePoolStats func() (inUse, idle, limit int32)

// InitMetrics registers the Prometheus collectors and, with an OTLP
// endpoint, pushes OTel metrics to the collector
func InitMetrics(ctx context.Context, cfg *Config, res *resource.Resource) error {
	var err error
	metricsOnce.Do(func() {
		ensurePrometheusMetrics()
		serviceInfo.WithLabelValues(cfg.Component, cfg.ServiceVersion, cfg.InstanceID).Set(1)

		if cfg.EnableMetrics && cfg.OTLPEndpoint != "" {
			err = initOTELMetrics(ctx, cfg, res)
		}
	})
	return err
}

// RegisterArchivePool exposes the console archive pool as gauges. Only the
// first registration takes effect.
func RegisterArchivePool(stats ArchivePoolStats) {
	poolOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pylonkit",
			Name:      "archive_connections_in_use",
			Help:      "Console archive connections currently acquired",
		}, func() float64 {
			inUse, _, _ := stats()
			return float64(inUse)
		})
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pylonkit",
			Name:      "archive_connections_idle",
			Help:      "Idle console archive connections",
		}, func() float64 {
			_, idle, _ := stats()
			return float64(idle)
		})
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pylonkit",
			Name:      "archive_connections_max",
			Help:      "Console archive pool size limit",
		}, func() float64 {
			_, _, limit := stats()
			return float64(limit)
		})
	})
}

// ensurePrometheusMetrics registers the collectors once. Recording helpers
// call it so that packages can record before Init has run (tests do).
func ensurePrometheusMetrics() {
	promOnce.Do(initPrometheusMetrics)
}

func initPrometheusMetrics() {
	platformRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "platform_requests_total",
		Help: "Total number of platform REST requests",
	}, []string{"method", "route", "status"})

	platformRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "platform_request_duration_seconds",
		Help:    "Duration of platform REST requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	streamOpensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_stream_opens_total",
		Help: "Total number of console sockets opened",
	}, []string{"deployment"})

	streamClosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_stream_closes_total",
		Help: "Total number of console socket closes by close code",
	}, []string{"deployment", "code"})

	streamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_stream_errors_total",
		Help: "Total number of console stream errors",
	}, []string{"deployment"})

	streamMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_stream_messages_total",
		Help: "Total number of console messages received",
	}, []string{"deployment"})

	streamReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_stream_reconnects_total",
		Help: "Total number of scheduled console reconnects",
	}, []string{"deployment"})

	streamReconnectDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_stream_reconnect_delay_seconds",
		Help:    "Delay before scheduled console reconnects",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"deployment"})

	streamsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_streams_connected",
		Help: "Number of console sockets currently open",
	})

	kvOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kv_operation_duration_seconds",
		Help:    "Duration of KV namespace operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	snapshotItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kv_snapshot_items_total",
		Help: "Total number of KV items exported or restored",
	}, []string{"direction"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	messagesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_processed_total",
		Help: "Total number of console messages processed by the relay",
	}, []string{"type", "status"})

	messageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_duration_seconds",
		Help:    "Duration of message processing in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Current depth of the queue",
	}, []string{"queue"})

	batchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_size",
		Help:    "Size of processing batches",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"type"})

	dlqMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_messages_total",
		Help: "Total number of messages sent to DLQ",
	}, []string{"reason"})

	serviceInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pylonkit",
		Name:      "service_info",
		Help:      "Always 1; labels identify the running component",
	}, []string{"component", "version", "instance"})
}

func initOTELMetrics(ctx context.Context, cfg *Config, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.MetricsInterval))),
	)
	otel.SetMeterProvider(meterProvider)
	return nil
}

func closeMetrics(ctx context.Context) error {
	if meterProvider == nil {
		return nil
	}
	return meterProvider.Shutdown(ctx)
}

// RecordPlatformRequest records one SDK call to the platform API
func RecordPlatformRequest(method, route, status string, duration time.Duration) {
	ensurePrometheusMetrics()
	platformRequestsTotal.WithLabelValues(method, route, status).Inc()
	platformRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordStreamOpen records an opened console socket
func RecordStreamOpen(deploymentID string) {
	ensurePrometheusMetrics()
	streamOpensTotal.WithLabelValues(deploymentID).Inc()
	streamsConnected.Inc()
}

// RecordStreamClose records a closed console socket
func RecordStreamClose(deploymentID string, code int) {
	ensurePrometheusMetrics()
	streamClosesTotal.WithLabelValues(deploymentID, strconv.Itoa(code)).Inc()
	streamsConnected.Dec()
}

// RecordStreamError records a console stream error
func RecordStreamError(deploymentID string) {
	ensurePrometheusMetrics()
	streamErrorsTotal.WithLabelValues(deploymentID).Inc()
}

// RecordStreamMessage records a received console message
func RecordStreamMessage(deploymentID string) {
	ensurePrometheusMetrics()
	streamMessagesTotal.WithLabelValues(deploymentID).Inc()
}

// RecordReconnect records a scheduled reconnect and its delay
func RecordReconnect(deploymentID string, delay time.Duration) {
	ensurePrometheusMetrics()
	streamReconnectsTotal.WithLabelValues(deploymentID).Inc()
	streamReconnectDelay.WithLabelValues(deploymentID).Observe(delay.Seconds())
}

// RecordKVOperation records a KV operation duration
func RecordKVOperation(operation string, status string, duration time.Duration) {
	ensurePrometheusMetrics()
	kvOperationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordSnapshotItems records items written to ("export") or read from ("restore") a snapshot
func RecordSnapshotItems(direction string, count int) {
	ensurePrometheusMetrics()
	snapshotItemsTotal.WithLabelValues(direction).Add(float64(count))
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	ensurePrometheusMetrics()
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordMessageProcessed records a processed message
func RecordMessageProcessed(msgType, status string, duration time.Duration) {
	ensurePrometheusMetrics()
	messagesProcessedTotal.WithLabelValues(msgType, status).Inc()
	messageProcessingDuration.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordBatchSize records the size of a processing batch
func RecordBatchSize(batchType string, size int) {
	ensurePrometheusMetrics()
	batchSize.WithLabelValues(batchType).Observe(float64(size))
}

// RecordDLQMessage records a message sent to DLQ
func RecordDLQMessage(reason string) {
	ensurePrometheusMetrics()
	dlqMessagesTotal.WithLabelValues(reason).Inc()
}

// UpdateQueueDepth updates the queue depth metric
func UpdateQueueDepth(queue string, depth int) {
	ensurePrometheusMetrics()
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}
