package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the engine tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("abcgraph")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartAcquireSpan starts a span covering one blocking acquire call.
	StartAcquireSpan(ctx context.Context, node string, n int) (context.Context, trace.Span)

	// StartChunkSpan starts a span for one chunk task build.
	StartChunkSpan(ctx context.Context, key string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartAcquireSpan starts a span covering one blocking acquire call.
func (m *otelSpanManager) StartAcquireSpan(ctx context.Context, node string, n int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "abcgraph.acquire",
		trace.WithAttributes(
			attribute.String("node", node),
			attribute.Int("n", n),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartChunkSpan starts a span for one chunk task build.
func (m *otelSpanManager) StartChunkSpan(ctx context.Context, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "abcgraph.chunk",
		trace.WithAttributes(
			attribute.String("key", key),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
