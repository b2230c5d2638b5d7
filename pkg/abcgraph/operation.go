package abcgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/observability"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// Operation is a node that produces data. It tracks how much of its
// output stream has been generated, builds lazy chunk tasks batch by
// batch, and serves reads out of its output cache.
//
// Sample index i of a node always carries the same content (same random
// substream, same key) no matter how many times or in what batch sizes
// it is requested, until the node or an ancestor is reset.
type Operation struct {
	Node

	sess       *Session
	rule       chunkRule
	stochastic bool
	observed   *tensor.Dense
	cache      *outputCache
	logger     *slog.Logger

	mu       sync.Mutex
	genIndex int
	// streams maps a chunk start index to its allocated substream, so
	// regenerating after a reset replays the identical random streams.
	streams map[int]uint64
}

// Generated returns the highest index (exclusive) up to which the output
// stream has been officially produced via Generate or Acquire.
func (op *Operation) Generated() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.genIndex
}

// Observed returns the node's fixed reference data, if any.
func (op *Operation) Observed() (*tensor.Dense, bool) {
	return op.observed, op.observed != nil
}

// Acquire materializes samples [starting, starting+n) of the node's
// output, generating the missing suffix first. This is the only
// blocking call in the engine.
func (op *Operation) Acquire(ctx context.Context, n int, opts ...CallOption) (*tensor.Dense, error) {
	cfg := newCallConfig(opts)
	start := time.Now()
	ctx, span := op.sess.spans.StartAcquireSpan(ctx, op.name, n)

	data, err := op.acquire(ctx, n, cfg)

	op.sess.metrics.RecordAcquire(ctx, op.name, time.Since(start), err)
	op.sess.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogAcquireError(op.logger, op.name, err)
		return nil, err
	}
	observability.LogAcquire(op.logger, op.name, n,
		float64(time.Since(start).Microseconds())/1000)
	return data, nil
}

func (op *Operation) acquire(ctx context.Context, n int, cfg *callConfig) (*tensor.Dense, error) {
	end := cfg.starting + n

	op.mu.Lock()
	if end > op.genIndex {
		if err := op.extendTo(ctx, end, cfg.batch, cfg.values); err != nil {
			op.mu.Unlock()
			return nil, err
		}
		op.genIndex = end
	}
	op.mu.Unlock()

	d, err := op.cache.Slice(slicekey.NewRange(cfg.starting, end))
	if err != nil {
		return nil, err
	}
	v, err := op.sess.b.Force(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := op.cache.takeMismatch(); err != nil {
		return nil, err
	}
	return backend.DataOf(v)
}

// Generate advances the generated index by exactly n, producing new
// chunks no larger than the batch size, and returns a lazy handle over
// the newly available slice.
func (op *Operation) Generate(ctx context.Context, n int, opts ...CallOption) (*backend.Deferred, error) {
	cfg := newCallConfig(opts)

	op.mu.Lock()
	start := op.genIndex
	end := start + n
	if err := op.extendTo(ctx, end, cfg.batch, cfg.values); err != nil {
		op.mu.Unlock()
		return nil, err
	}
	op.genIndex = end
	op.mu.Unlock()

	return op.cache.Slice(slicekey.NewRange(start, end))
}

// GetSlice returns a lazy handle over the given range, extending the
// cache forward as needed without touching the generated index. Parents
// serve their children's chunk requests through this path.
func (op *Operation) GetSlice(ctx context.Context, r slicekey.Range, opts ...CallOption) (*backend.Deferred, error) {
	cfg := newCallConfig(opts)

	op.mu.Lock()
	err := op.extendTo(ctx, r.End, cfg.batch, cfg.values)
	op.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return op.cache.Slice(r)
}

// extendTo appends chunks until the cache covers [0, target). A batch
// of zero or less means the whole shortfall in one chunk. Forced values
// span the window of samples this call generates and are cut down to
// each chunk's rows before use. Caller holds op.mu.
func (op *Operation) extendTo(ctx context.Context, target, batch int, values map[string]any) error {
	base := op.cache.Len()
	for {
		have := op.cache.Len()
		if have >= target {
			return nil
		}
		m := target - have
		if batch > 0 && batch < m {
			m = batch
		}
		chunkValues, err := sliceValues(values, have-base, m, target-base)
		if err != nil {
			return err
		}
		if err := op.buildChunk(ctx, slicekey.NewRange(have, have+m), chunkValues); err != nil {
			return err
		}
	}
}

// sliceValues cuts forced values down to one chunk's rows. Every value
// covers the full window of samples being generated; off and m locate
// the chunk inside it. Scalars broadcast across the window first, so
// they force every chunk alike.
func sliceValues(values map[string]any, off, m, window int) (map[string]any, error) {
	if len(values) == 0 || (off == 0 && m == window) {
		return values, nil
	}
	out := make(map[string]any, len(values))
	for name, v := range values {
		data, err := tensor.Normalize(v, window)
		if err != nil {
			return nil, err
		}
		if data.Rows() != window {
			return nil, fmt.Errorf("forced value of %d rows for %d new samples of %q: %w",
				data.Rows(), window, name, tensor.ErrShape)
		}
		rows, err := data.Slice(off, off+m)
		if err != nil {
			return nil, err
		}
		out[name] = rows
	}
	return out, nil
}

// buildChunk constructs and appends the chunk task for range r. When
// values force this node's output, the given data is substituted as if
// it had been computed. Caller holds op.mu.
func (op *Operation) buildChunk(ctx context.Context, r slicekey.Range, values map[string]any) (err error) {
	key := slicekey.MustNew(op.name, r)
	ctx, span := op.sess.spans.StartChunkSpan(ctx, key.String())
	defer func() { op.sess.spans.EndSpanWithError(span, err) }()

	var chunk *backend.Deferred
	if v, ok := valueFor(values, op.name); ok {
		data, err := tensor.Normalize(v, r.Len())
		if err != nil {
			return err
		}
		if data.Rows() != r.Len() {
			return fmt.Errorf("forced value of %d rows for chunk %s: %w",
				data.Rows(), key, tensor.ErrShape)
		}
		chunk = backend.Literal(key, &backend.Output{Data: data, N: r.Len(), Index: r.Start})
	} else {
		deps := make([]*backend.Deferred, len(op.parents))
		obs := make([]*tensor.Dense, len(op.parents))
		for i, p := range op.parents {
			pop := p.op
			if pop == nil {
				return fmt.Errorf("parent %q of %q produces no data", p.name, op.name)
			}
			pd, err := pop.GetSlice(ctx, r, WithValues(values))
			if err != nil {
				return err
			}
			deps[i] = pd
			obs[i] = pop.observed
		}

		var seed, stream uint64
		if op.stochastic {
			seed = op.sess.seed
			stream = op.substream(r.Start)
		}
		stochastic := op.stochastic
		rule := op.rule
		n, index := r.Len(), r.Start

		chunk = backend.NewTask(key, func(fctx context.Context, inputs []any) (any, error) {
			req := &chunkRequest{n: n, index: index, observed: obs}
			if stochastic {
				req.rng = substreamRand(seed, stream)
			}
			req.parents = make([]*tensor.Dense, len(inputs))
			for i, in := range inputs {
				data, err := backend.DataOf(in)
				if err != nil {
					return nil, err
				}
				req.parents[i] = data
			}
			data, err := rule(fctx, req)
			if err != nil {
				return nil, err
			}
			return &backend.Output{Data: data, N: n, Index: index, Rand: req.rng}, nil
		}, deps...)
	}

	observability.LogChunkSubmit(op.logger, key.String(), r.Len())
	op.sess.metrics.RecordChunkBuild(ctx, op.name, r.Len())
	return op.cache.Append(chunk)
}

// substream returns the substream index for the chunk starting at the
// given index, allocating a fresh one from the session on first use.
// Indices are never reused across nodes or chunks; replay for the same
// (node, start) is the reproducibility contract. Caller holds op.mu.
func (op *Operation) substream(start int) uint64 {
	if s, ok := op.streams[start]; ok {
		return s
	}
	s := op.sess.nextSubstream()
	op.streams[start] = s
	return s
}

// Reset clears the node's generated index and cache. With propagate,
// every descendant is reset as well, since its cached output is only
// valid relative to the upstream state that produced it. A
// non-propagating reset leaves descendants serving stale data.
func (op *Operation) Reset(propagate bool) error {
	observability.LogReset(op.logger, op.name, propagate)

	op.mu.Lock()
	op.genIndex = 0
	err := op.cache.Reset()
	op.mu.Unlock()

	if propagate {
		for _, c := range op.Children() {
			if c.op == nil {
				continue
			}
			if cerr := c.op.Reset(true); cerr != nil && err == nil {
				err = cerr
			}
		}
	}
	return err
}

func newCallConfig(opts []CallOption) *callConfig {
	cfg := &callConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func valueFor(values map[string]any, name string) (any, bool) {
	if values == nil {
		return nil, false
	}
	v, ok := values[name]
	return v, ok
}
