package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/observability"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// BufferStore copies chunk data into a caller-supplied fixed-capacity
// buffer, such as a pre-allocated matrix backing a memory-mapped file.
// Row i of the buffer holds sample i of the bound node's output.
type BufferStore struct {
	b      backend.Backend
	name   string
	buf    *tensor.Dense
	logger *slog.Logger

	mu      sync.Mutex
	written map[string]slicekey.Key // key string -> chunk key
	closed  bool
	bg      sync.WaitGroup
}

// Compile-time interface check.
var _ Store = (*BufferStore)(nil)

// NewBufferStore creates a store over buf for the named node. The buffer
// capacity (its row count) bounds how many samples can be persisted.
func NewBufferStore(b backend.Backend, name string, buf *tensor.Dense, logger *slog.Logger) *BufferStore {
	return &BufferStore{
		b:       b,
		name:    name,
		buf:     buf,
		logger:  logger,
		written: make(map[string]slicekey.Key),
	}
}

// Write implements Store. Capacity is validated synchronously; the copy
// into the buffer happens in the background once the chunk resolves.
func (s *BufferStore) Write(d *backend.Deferred, onDone func(key slicekey.Key, value any)) error {
	key := d.Key()
	if key.Name != s.name {
		return fmt.Errorf("write %s into store for %q: %w", key, s.name, ErrWrongNode)
	}
	if key.Start+key.Length > s.buf.Rows() {
		return fmt.Errorf("write %s into %d-row buffer: %w", key, s.buf.Rows(), ErrNoCapacity)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.bg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.bg.Done()
		v, err := s.b.Force(context.Background(), d)
		if err != nil {
			observability.LogStoreWriteError(s.logger, key.String(), err)
			return
		}
		data, err := backend.DataOf(v)
		if err != nil {
			observability.LogStoreWriteError(s.logger, key.String(), err)
			return
		}
		if err := s.copyIn(key, data); err != nil {
			observability.LogStoreWriteError(s.logger, key.String(), err)
			return
		}
		if onDone != nil {
			onDone(key, v)
		}
	}()
	return nil
}

// copyIn copies a resolved chunk into the buffer rows it covers and
// marks the range written.
func (s *BufferStore) copyIn(key slicekey.Key, data *tensor.Dense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if data.Rows() != key.Length || data.Cols() != s.buf.Cols() {
		return fmt.Errorf("chunk %s is %dx%d, buffer rows are %d wide: %w",
			key, data.Rows(), data.Cols(), s.buf.Cols(), tensor.ErrShape)
	}
	for i := 0; i < data.Rows(); i++ {
		if err := s.buf.SetRow(key.Start+i, data.Row(i)); err != nil {
			return err
		}
	}
	s.written[key.String()] = key
	return nil
}

// Read implements Store.
func (s *BufferStore) Read(key slicekey.Key) (*backend.Deferred, error) {
	if key.Name != s.name {
		return nil, fmt.Errorf("read %s from store for %q: %w", key, s.name, ErrWrongNode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := s.written[key.String()]; !ok {
		return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
	}

	rows, err := s.buf.Slice(key.Start, key.Start+key.Length)
	if err != nil {
		return nil, err
	}
	return backend.Literal(key, &backend.Output{
		Data:  rows.Clone(),
		N:     key.Length,
		Index: key.Start,
	}), nil
}

// ReadData implements Store. The returned handle reads the buffer rows
// lazily, at force time, so it composes into downstream task graphs.
func (s *BufferStore) ReadData(r slicekey.Range) (*backend.Deferred, error) {
	key, err := slicekey.New(s.name, r)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, ok := s.written[key.String()]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrStoreClosed
	}
	if !ok {
		return nil, fmt.Errorf("read data %s: %w", key, ErrNotFound)
	}

	return backend.NewTask(key.WithName(storedName(s.name)),
		func(_ context.Context, _ []any) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			rows, err := s.buf.Slice(r.Start, r.End)
			if err != nil {
				return nil, err
			}
			return rows.Clone(), nil
		}), nil
}

// Reset implements Store. Bookkeeping is dropped; rows already written
// to the underlying buffer are left as-is.
func (s *BufferStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = make(map[string]slicekey.Key)
	return nil
}

// Close implements Store. Waits for in-flight background writes.
func (s *BufferStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.bg.Wait()
	return nil
}
