package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "musicmaid"
	ServiceVersion = "1.0.0"
)

// Tracer owns the global trace provider; spans are started with StartSpan
type Tracer struct {
	tp *sdktrace.TracerProvider
}

// NewTracer creates a new tracer instance
func NewTracer(serviceName, collectorEndpoint string, useOTLP bool) (*Tracer, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", ServiceVersion),
	)

	var exp sdktrace.SpanExporter
	var err error

	if useOTLP {
		// Use OTLP exporter (for sending traces to collector like Jaeger, Tempo, etc.)
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(collectorEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		exp, err = otlptrace.New(context.Background(), client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	} else {
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	}

	return newTracer(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func newTracer(opts ...sdktrace.TracerProviderOption) *Tracer {
	tp := sdktrace.NewTracerProvider(opts...)

	// Set global trace provider
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{tp: tp}
}

// Shutdown flushes and shuts down the trace provider
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.tp.Shutdown(ctx)
}

// StartSpan starts a span on the global provider. Without a configured
// Tracer the global provider is a no-op.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(ServiceName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// AddAttributes adds attributes to the current span
func AddAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.SetAttributes(attrs...)
	}
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetSpanError marks the current span as failed
func SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// IndexTracingAttrs returns common attributes for index passes
func IndexTracingAttrs(path string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("component", "indexer"),
		attribute.String("file.path", path),
	}
}

// RewriteTracingAttrs returns common attributes for comment rewrites
func RewriteTracingAttrs(path, mode string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("component", "tagwriter"),
		attribute.String("file.path", path),
	}
	if mode != "" {
		attrs = append(attrs, attribute.String("rewrite.mode", mode))
	}
	return attrs
}

// ScanTracingAttrs returns common attributes for directory scans
func ScanTracingAttrs(root string, workers int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("component", "scanner"),
		attribute.String("scan.root", root),
		attribute.Int("scan.workers", workers),
	}
}

// WithTracingContext starts a span and returns a cleanup func that ends it
func WithTracingContext(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func()) {
	ctx, span := StartSpan(ctx, spanName, attrs...)

	cleanup := func() {
		span.End()
	}

	return ctx, span, cleanup
}
