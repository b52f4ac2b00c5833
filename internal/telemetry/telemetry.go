package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Init validates cfg and wires logging, metrics and tracing for one
// component
func Init(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		return err
	}

	if err := InitMetrics(ctx, cfg, res); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := InitTracing(ctx, cfg, res); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	L().WithFields(logrus.Fields{
		"instance":      cfg.InstanceID,
		"environment":   cfg.Environment,
		"otlp_endpoint": cfg.OTLPEndpoint,
		"sampling_rate": cfg.SamplingRate,
	}).Info("Telemetry initialized")

	return nil
}

// Shutdown flushes spans and OTel metrics and closes the log file
func Shutdown(ctx context.Context) error {
	if err := closeTracing(ctx); err != nil {
		L().WithError(err).Error("Failed to close tracing")
	}

	if err := closeMetrics(ctx); err != nil {
		L().WithError(err).Error("Failed to close metrics")
	}

	if err := CloseLogger(); err != nil {
		L().WithError(err).Error("Failed to close logger")
	}

	return nil
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// FiberMetricsMiddleware traces and times gateway requests. The span is
// named after the matched route template so that every deployment shares
// one span name; the deployment and namespace go into attributes.
func FiberMetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		method := c.Method()

		ctx, span := StartSpan(c.UserContext(), method+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.SetUserContext(ctx)

		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		RecordHTTPRequest(method, route, strconv.Itoa(status), time.Since(start))

		span.SetName(method + " " + route)
		span.SetAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPTargetKey.String(c.OriginalURL()),
			semconv.HTTPRouteKey.String(route),
			semconv.HTTPStatusCodeKey.Int(status),
		)
		if id := c.Params("id"); id != "" {
			span.SetAttributes(DeploymentIDKey.String(id))
		}
		if ns := c.Params("ns"); ns != "" {
			span.SetAttributes(NamespaceKey.String(ns))
		}

		switch {
		case err != nil:
			RecordError(ctx, err)
		case status >= 500:
			SetErrorStatus(ctx, fmt.Sprintf("HTTP %d", status))
		default:
			SetOKStatus(ctx)
		}

		return err
	}
}

// FiberLoggingMiddleware logs one entry per gateway request
func FiberLoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		fields := logrus.Fields{
			"method":   c.Method(),
			"route":    c.Route().Path,
			"path":     c.Path(),
			"status":   c.Response().StatusCode(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.IP(),
		}
		if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
			fields["request_id"] = id
		}
		if id := c.Params("id"); id != "" {
			fields["deployment_id"] = id
		}
		entry := WithContext(c.UserContext()).WithFields(fields)

		switch {
		case err != nil:
			entry.WithError(err).Error("Request failed")
		case c.Response().StatusCode() >= 500:
			entry.Error("Request completed with server error")
		case c.Response().StatusCode() >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed")
		}

		return err
	}
}

// TimeKVOperation starts a span for a KV operation against one deployment
// and returns a function that ends it and records the duration under
// status ("ok" or "error"). namespace may be empty.
func TimeKVOperation(ctx context.Context, operation, deploymentID, namespace string) (context.Context, func(status string)) {
	start := time.Now()
	ctx, span := StartDeploymentSpan(ctx, "kv."+operation, deploymentID,
		KVOperationKey.String(operation),
		NamespaceKey.String(namespace),
	)

	return ctx, func(status string) {
		duration := time.Since(start)
		RecordKVOperation(operation, status, duration)

		if status == "error" {
			SetErrorStatus(ctx, "kv "+operation+" failed")
		} else {
			SetOKStatus(ctx)
		}

		span.End()

		WithContext(ctx).WithFields(logrus.Fields{
			"operation":     operation,
			"deployment_id": deploymentID,
			"namespace":     namespace,
			"status":        status,
			"duration":      duration.Milliseconds(),
		}).Debug("KV operation completed")
	}
}
