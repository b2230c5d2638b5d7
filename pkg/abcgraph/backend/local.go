package backend

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/observability"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
)

// Local is an in-process backend backed by a bounded worker pool.
// It serves tests and single-machine inference; the Backend interface is
// the seam for a distributed implementation.
type Local struct {
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu     sync.Mutex
	pinned map[string]*Deferred // key string -> pinned result
	closed bool

	bg sync.WaitGroup
}

// Compile-time interface check.
var _ Backend = (*Local)(nil)

// LocalOption configures a Local backend.
type LocalOption func(*Local)

// WithWorkers bounds the number of task functions executing
// concurrently. Default: runtime.NumCPU().
func WithWorkers(n int) LocalOption {
	return func(l *Local) {
		if n > 0 {
			l.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the structured logger. Default: no logging.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) LocalOption {
	return func(l *Local) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLocal creates a local worker-pool backend.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		sem:     semaphore.NewWeighted(int64(runtime.NumCPU())),
		metrics: observability.NoopMetrics{},
		pinned:  make(map[string]*Deferred),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Force implements Backend.
func (l *Local) Force(ctx context.Context, d *Deferred) (any, error) {
	d.once.Do(func() {
		defer d.done.Store(true)

		inputs := make([]any, len(d.deps))
		g, gctx := errgroup.WithContext(ctx)
		for i, dep := range d.deps {
			g.Go(func() error {
				v, err := l.Force(gctx, dep)
				if err != nil {
					return err
				}
				inputs[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			d.err = err
			return
		}

		if err := l.sem.Acquire(ctx, 1); err != nil {
			d.err = err
			return
		}
		defer l.sem.Release(1)

		start := time.Now()
		d.val, d.err = d.fn(ctx, inputs)
		l.metrics.RecordTaskExecution(ctx, d.key.Name, time.Since(start), d.err)
		if d.err != nil {
			observability.LogTaskError(l.logger, d.key.String(), d.err)
		}
	})
	return d.val, d.err
}

// Persist implements Backend. The result is pinned immediately so reads
// racing with the background computation find the canonical deferred.
func (l *Local) Persist(d *Deferred, onDone func(key slicekey.Key, value any)) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pinned[d.key.String()] = d
	l.bg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.bg.Done()
		v, err := l.Force(context.Background(), d)
		if err != nil {
			// A failed persist is permanent: the pinned entry keeps the
			// error and the owning cache's stored flag stays false.
			observability.LogPersistError(l.logger, d.key.String(), err)
			return
		}
		if onDone != nil {
			onDone(d.key, v)
		}
	}()
}

// Stored implements Backend.
func (l *Local) Stored(key slicekey.Key) (*Deferred, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.pinned[key.String()]
	return d, ok
}

// Unpin implements Backend.
func (l *Local) Unpin(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s, d := range l.pinned {
		if d.key.Name == name {
			delete(l.pinned, s)
		}
	}
}

// Close implements Backend. Outstanding background persists are allowed
// to finish; task computation itself cannot be cancelled.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.bg.Wait()

	l.mu.Lock()
	l.pinned = make(map[string]*Deferred)
	l.mu.Unlock()
	return nil
}
