package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Span and resource attribute keys shared by the relay and the gateway
const (
	ComponentKey    = attribute.Key("pylonkit.component")
	DeploymentIDKey = attribute.Key("pylon.deployment.id")
	NamespaceKey    = attribute.Key("pylon.kv.namespace")
	KVOperationKey  = attribute.Key("pylon.kv.operation")
	SnapshotIDKey   = attribute.Key("pylonkit.snapshot.id")
	instrumentScope = "github.com/birbparty/pylonkit"
)

var (
	tracerOnce     sync.Once
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
)

// newResource describes this process to the collector
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.ServiceInstanceIDKey.String(cfg.InstanceID),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
			ComponentKey.String(cfg.Component),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// InitTracing installs the global tracer provider. Without an OTLP
// endpoint spans are sampled but never exported.
func InitTracing(ctx context.Context, cfg *Config, res *resource.Resource) error {
	var err error
	tracerOnce.Do(func() {
		if !cfg.EnableTracing {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())
			tracer = otel.Tracer(instrumentScope)
			return
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		}

		if cfg.OTLPEndpoint != "" {
			clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
			if cfg.OTLPInsecure {
				clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
			}
			exporter, exportErr := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
			if exportErr != nil {
				err = fmt.Errorf("failed to create trace exporter: %w", exportErr)
				return
			}
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}

		tracerProvider = sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

		tracer = tracerProvider.Tracer(instrumentScope)
	})

	return err
}

// Tracer returns the process tracer, or the global one before Init
func Tracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer(instrumentScope)
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartDeploymentSpan starts a span scoped to one deployment
func StartDeploymentSpan(ctx context.Context, name, deploymentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, DeploymentIDKey.String(deploymentID))
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetErrorStatus sets the status of the current span to Error
func SetErrorStatus(ctx context.Context, description string) {
	trace.SpanFromContext(ctx).SetStatus(codes.Error, description)
}

// SetOKStatus sets the status of the current span to OK
func SetOKStatus(ctx context.Context) {
	trace.SpanFromContext(ctx).SetStatus(codes.Ok, "")
}

// RecordError records err on the current span and marks it failed
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// closeTracing flushes pending spans
func closeTracing(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	return tracerProvider.Shutdown(ctx)
}
