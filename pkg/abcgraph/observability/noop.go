package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordTaskExecution does nothing.
func (NoopMetrics) RecordTaskExecution(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordChunkBuild does nothing.
func (NoopMetrics) RecordChunkBuild(_ context.Context, _ string, _ int) {}

// RecordAcquire does nothing.
func (NoopMetrics) RecordAcquire(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordStoreWrite does nothing.
func (NoopMetrics) RecordStoreWrite(_ context.Context, _ string, _ int64) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartAcquireSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartAcquireSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartChunkSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartChunkSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
