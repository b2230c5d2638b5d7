// Package observability provides structured logging, metrics, and
// distributed tracing for the inference engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
)

// EnrichLogger adds engine context to a logger.
// Returns a new logger with session_id and node fields.
func EnrichLogger(logger *slog.Logger, sessionID, node string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("session_id", sessionID),
		slog.String("node", node),
	)
}

// LogChunkSubmit logs a new chunk task entering the graph.
func LogChunkSubmit(logger *slog.Logger, key string, n int) {
	if logger == nil {
		return
	}
	logger.Debug("chunk submitted",
		slog.String("key", key),
		slog.Int("n", n),
	)
}

// LogAcquire logs a blocking acquire call completing.
func LogAcquire(logger *slog.Logger, node string, n int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("acquire completed",
		slog.String("node", node),
		slog.Int("n", n),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogAcquireError logs a failed acquire.
func LogAcquireError(logger *slog.Logger, node string, err error) {
	if logger == nil {
		return
	}
	logger.Error("acquire failed",
		slog.String("node", node),
		slog.String("error", err.Error()),
	)
}

// LogTaskError logs a task computation failure.
func LogTaskError(logger *slog.Logger, key string, err error) {
	if logger == nil {
		return
	}
	logger.Error("task failed",
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// LogStoreWrite logs a chunk being handed to a store.
func LogStoreWrite(logger *slog.Logger, key string) {
	if logger == nil {
		return
	}
	logger.Debug("chunk sent to store",
		slog.String("key", key),
	)
}

// LogStoreWriteError logs a store persistence failure (non-fatal: reads
// keep falling back to the live computation).
func LogStoreWriteError(logger *slog.Logger, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("store write failed",
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// LogPersistError logs a background persist failure.
func LogPersistError(logger *slog.Logger, key string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("persist failed",
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// LogCallbackMismatch logs a store completion callback for a key the
// cache no longer tracks.
func LogCallbackMismatch(logger *slog.Logger, key string) {
	if logger == nil {
		return
	}
	logger.Warn("store callback for unknown chunk",
		slog.String("key", key),
	)
}

// LogReset logs a node cache reset.
func LogReset(logger *slog.Logger, node string, propagate bool) {
	if logger == nil {
		return
	}
	logger.Debug("node reset",
		slog.String("node", node),
		slog.Bool("propagate", propagate),
	)
}
