package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
)

// MemoryStore keeps chunk results pinned in the backend's working
// memory. On a distributed backend this corresponds to caching results
// on the workers that computed them.
type MemoryStore struct {
	b backend.Backend

	mu     sync.Mutex
	name   string // bound on first write
	closed bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store that pins chunk results in backend
// memory. The store binds to its source node on the first write.
func NewMemoryStore(b backend.Backend) *MemoryStore {
	return &MemoryStore{b: b}
}

// Write implements Store.
func (m *MemoryStore) Write(d *backend.Deferred, onDone func(key slicekey.Key, value any)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStoreClosed
	}
	m.name = d.Key().Name
	m.mu.Unlock()

	m.b.Persist(d, onDone)
	return nil
}

// Read implements Store.
func (m *MemoryStore) Read(key slicekey.Key) (*backend.Deferred, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	d, ok := m.b.Stored(key)
	if !ok {
		return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
	}
	return d, nil
}

// ReadData implements Store. The handle projects the sample block out of
// the pinned chunk record.
func (m *MemoryStore) ReadData(r slicekey.Range) (*backend.Deferred, error) {
	m.mu.Lock()
	name := m.name
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrStoreClosed
	}
	key, err := slicekey.New(name, r)
	if err != nil {
		return nil, err
	}
	pinned, ok := m.b.Stored(key)
	if !ok {
		return nil, fmt.Errorf("read data %s: %w", key, ErrNotFound)
	}

	return backend.NewTask(key.WithName(storedName(name)),
		func(_ context.Context, inputs []any) (any, error) {
			return backend.DataOf(inputs[0])
		}, pinned), nil
}

// Reset implements Store.
func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	name := m.name
	m.mu.Unlock()

	if name != "" {
		m.b.Unpin(name)
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
