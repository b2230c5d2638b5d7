package abcgraph

import (
	"context"
	"log/slog"
	"sync"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/observability"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/store"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// outputCache holds one node's output chunks in index order. The chunk
// list is always a contiguous, gap-free partition of [0, length).
// Persistence callbacks run on backend goroutines, so the chunk and flag
// lists are mutex-protected.
type outputCache struct {
	name    string
	st      store.Store
	logger  *slog.Logger
	metrics observability.MetricsRecorder

	mu       sync.Mutex
	chunks   []*backend.Deferred
	stored   []bool
	length   int
	mismatch error
}

func newOutputCache(name string, st store.Store, logger *slog.Logger, metrics observability.MetricsRecorder) *outputCache {
	return &outputCache{name: name, st: st, logger: logger, metrics: metrics}
}

// Len returns the total number of samples covered by the cache.
func (c *outputCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Append adds the next chunk. The chunk's range must start exactly at
// the current length; anything else is a SequenceError. When a store is
// attached the chunk is handed over for asynchronous persistence and the
// completion callback flips its stored flag.
func (c *outputCache) Append(d *backend.Deferred) error {
	key := d.Key()

	c.mu.Lock()
	if key.Start != c.length {
		length := c.length
		c.mu.Unlock()
		return &SequenceError{Key: key, Length: length}
	}
	c.chunks = append(c.chunks, d)
	c.stored = append(c.stored, false)
	c.length += key.Length
	c.mu.Unlock()

	if c.st != nil {
		observability.LogStoreWrite(c.logger, key.String())
		if err := c.st.Write(d, c.setStored); err != nil {
			// The flag stays false and reads keep using the live chunk.
			observability.LogStoreWriteError(c.logger, key.String(), err)
		}
	}
	return nil
}

// setStored is the store completion callback.
func (c *outputCache) setStored(key slicekey.Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ch := range c.chunks {
		if ch.Key() == key {
			c.stored[i] = true
			if data, err := backend.DataOf(value); err == nil {
				c.metrics.RecordStoreWrite(context.Background(),
					key.Name, int64(8*data.Rows()*data.Cols()))
			}
			return
		}
	}
	c.mismatch = &CallbackMismatchError{Node: c.name, Key: key}
	observability.LogCallbackMismatch(c.logger, key.String())
}

// takeMismatch returns and clears a recorded callback mismatch, so the
// next blocking read surfaces it.
func (c *outputCache) takeMismatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.mismatch
	c.mismatch = nil
	return err
}

// Slice returns a lazy handle over the sample block [r.Start, r.End).
// Persisted chunks are read back from the store keyed by their full
// range; in-flight chunks contribute their live data field. Sub-ranges
// of a chunk are re-keyed to the intersection, and reads spanning
// several chunks concatenate the pieces under a composite key.
func (c *outputCache) Slice(r slicekey.Range) (*backend.Deferred, error) {
	if r.Empty() {
		return backend.Anon(tensor.Zeros(0, 0)), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var pieces []*backend.Deferred
	for i, chunk := range c.chunks {
		cover := chunk.Key().Range()
		inter := slicekey.Intersect(r, cover)
		if inter.Empty() {
			continue
		}
		p, err := c.piece(i, inter)
		if err != nil {
			return nil, err
		}
		pieces = append(pieces, p)
	}

	switch len(pieces) {
	case 0:
		return backend.Anon(tensor.Zeros(0, 0)), nil
	case 1:
		return pieces[0], nil
	}

	key := slicekey.MustNew(pieces[0].Key().Name, r)
	return backend.NewTask(key, func(_ context.Context, inputs []any) (any, error) {
		parts := make([]*tensor.Dense, len(inputs))
		for i, in := range inputs {
			data, err := backend.DataOf(in)
			if err != nil {
				return nil, err
			}
			parts[i] = data
		}
		return tensor.Vstack(parts...)
	}, pieces...), nil
}

// piece builds the lazy data handle for the part of chunk i covered by
// inter. Caller holds c.mu.
func (c *outputCache) piece(i int, inter slicekey.Range) (*backend.Deferred, error) {
	chunk := c.chunks[i]
	key := chunk.Key()

	var src *backend.Deferred
	if c.stored[i] && c.st != nil {
		sd, err := c.st.ReadData(key.Range())
		if err == nil {
			src = sd
		}
		// A store read failure falls back to the live chunk below.
	}
	if src == nil {
		src = backend.NewTask(key.WithName(c.name+"-data"),
			func(_ context.Context, inputs []any) (any, error) {
				return backend.DataOf(inputs[0])
			}, chunk)
	}

	if inter == key.Range() {
		return src, nil
	}
	local := inter.Shift(key.Start)
	sub := slicekey.MustNew(src.Key().Name, inter)
	return backend.NewTask(sub, func(_ context.Context, inputs []any) (any, error) {
		data, err := backend.DataOf(inputs[0])
		if err != nil {
			return nil, err
		}
		rows, err := data.Slice(local.Start, local.End)
		if err != nil {
			return nil, err
		}
		return rows.Clone(), nil
	}, src), nil
}

// Reset clears the chunk list, the flags, and the store bookkeeping.
func (c *outputCache) Reset() error {
	c.mu.Lock()
	c.chunks = nil
	c.stored = nil
	c.length = 0
	c.mismatch = nil
	c.mu.Unlock()

	if c.st != nil {
		return c.st.Reset()
	}
	return nil
}
