package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/birbparty/pylonkit/internal/telemetry"
)

var (
	// Namespace listing cache
	namespaceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pylonkit_gateway_namespace_cache_total",
		Help: "Namespace listing cache lookups by result",
	}, []string{"result"})

	// Platform failures surfaced to gateway callers
	upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pylonkit_gateway_upstream_errors_total",
		Help: "Platform errors returned by gateway endpoints",
	}, []string{"route", "code"})

	// Snapshot job queue
	snapshotQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pylonkit_gateway_snapshot_queue_depth",
		Help: "Current depth of the async snapshot queue",
	})

	snapshotQueueCapacity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pylonkit_gateway_snapshot_queue_capacity",
		Help: "Total capacity of the async snapshot queue",
	})

	snapshotJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pylonkit_gateway_snapshot_jobs_total",
		Help: "Async snapshot jobs by result",
	}, []string{"result"})

	// System health
	healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pylonkit_gateway_health_status",
		Help: "Health status per dependency (1=healthy, 0=unhealthy)",
	}, []string{"check"})
)

// MetricsHandler serves the Prometheus registry on a fiber route
func MetricsHandler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(telemetry.PrometheusHandler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}

// RecordNamespaceCache records a namespace listing cache hit or miss
func RecordNamespaceCache(hit bool) {
	if hit {
		namespaceCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	namespaceCacheLookups.WithLabelValues("miss").Inc()
}

// RecordUpstreamError records a platform error returned to a caller
func RecordUpstreamError(route, code string) {
	upstreamErrors.WithLabelValues(route, code).Inc()
}

// RecordSnapshotJob records the outcome of an async snapshot job
func RecordSnapshotJob(result string) {
	snapshotJobs.WithLabelValues(result).Inc()
}

// UpdateHealthMetric updates the health gauge of one dependency
func UpdateHealthMetric(check string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	healthStatus.WithLabelValues(check).Set(value)
}

// initializeQueueMetrics publishes the snapshot queue capacity
func initializeQueueMetrics(capacity int) {
	snapshotQueueCapacity.Set(float64(capacity))
	snapshotQueueDepth.Set(0)
}
