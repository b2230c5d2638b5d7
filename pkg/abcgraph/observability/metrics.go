package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTaskExecution records one task function run with its duration
	// and error status. Name is the producing node's name.
	RecordTaskExecution(ctx context.Context, name string, duration time.Duration, err error)

	// RecordChunkBuild records a new chunk task of n samples entering a
	// node's output cache.
	RecordChunkBuild(ctx context.Context, node string, n int)

	// RecordAcquire records a blocking acquire call.
	RecordAcquire(ctx context.Context, node string, duration time.Duration, err error)

	// RecordStoreWrite records a chunk persisted to a store.
	RecordStoreWrite(ctx context.Context, node string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	taskRuns    metric.Int64Counter
	taskLatency metric.Float64Histogram
	taskErrors  metric.Int64Counter
	chunkBuilds metric.Int64Counter
	chunkSizes  metric.Int64Histogram
	acquires    metric.Int64Counter
	acquireMs   metric.Float64Histogram
	storeWrites metric.Int64Counter
	storeBytes  metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("abcgraph")

	taskRuns, err := meter.Int64Counter("abcgraph.task.executions",
		metric.WithDescription("Number of task function executions"),
	)
	if err != nil {
		return nil, err
	}

	taskLatency, err := meter.Float64Histogram("abcgraph.task.latency_ms",
		metric.WithDescription("Task execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	taskErrors, err := meter.Int64Counter("abcgraph.task.errors",
		metric.WithDescription("Number of task execution errors"),
	)
	if err != nil {
		return nil, err
	}

	chunkBuilds, err := meter.Int64Counter("abcgraph.chunk.builds",
		metric.WithDescription("Number of chunk tasks appended to output caches"),
	)
	if err != nil {
		return nil, err
	}

	chunkSizes, err := meter.Int64Histogram("abcgraph.chunk.samples",
		metric.WithDescription("Samples per chunk"),
	)
	if err != nil {
		return nil, err
	}

	acquires, err := meter.Int64Counter("abcgraph.acquire.calls",
		metric.WithDescription("Number of blocking acquire calls"),
	)
	if err != nil {
		return nil, err
	}

	acquireMs, err := meter.Float64Histogram("abcgraph.acquire.latency_ms",
		metric.WithDescription("Acquire latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	storeWrites, err := meter.Int64Counter("abcgraph.store.writes",
		metric.WithDescription("Number of chunks handed to stores"),
	)
	if err != nil {
		return nil, err
	}

	storeBytes, err := meter.Int64Histogram("abcgraph.store.write_bytes",
		metric.WithDescription("Persisted chunk size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		taskRuns:    taskRuns,
		taskLatency: taskLatency,
		taskErrors:  taskErrors,
		chunkBuilds: chunkBuilds,
		chunkSizes:  chunkSizes,
		acquires:    acquires,
		acquireMs:   acquireMs,
		storeWrites: storeWrites,
		storeBytes:  storeBytes,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordTaskExecution records a task function run.
func (m *otelMetrics) RecordTaskExecution(ctx context.Context, name string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("node", name),
	}

	m.taskRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.taskLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.taskErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordChunkBuild records a chunk appended to an output cache.
func (m *otelMetrics) RecordChunkBuild(ctx context.Context, node string, n int) {
	attrs := []attribute.KeyValue{
		attribute.String("node", node),
	}
	m.chunkBuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.chunkSizes.Record(ctx, int64(n), metric.WithAttributes(attrs...))
}

// RecordAcquire records a blocking acquire.
func (m *otelMetrics) RecordAcquire(ctx context.Context, node string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("node", node),
		attribute.Bool("success", err == nil),
	}
	m.acquires.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.acquireMs.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordStoreWrite records a chunk handed to a store.
func (m *otelMetrics) RecordStoreWrite(ctx context.Context, node string, sizeBytes int64) {
	attrs := []attribute.KeyValue{
		attribute.String("node", node),
	}
	m.storeWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storeBytes.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))
}
