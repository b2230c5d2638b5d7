// Package store provides pluggable persistence backends for node output
// chunks. A store is associated with exactly one source node and is
// indexed by chunk key (name, start, length). Chunks written to a store
// survive after the producing task graph is dropped, letting later reads
// skip recomputation.
//
// The Write contract: it never blocks on the chunk's computation, and
// the completion callback fires exactly once per chunk, after the value
// is available. A failed persist never fires the callback, so the
// owning cache keeps falling back to the live computation.
package store

import (
	"errors"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
)

// Store persists output chunks for a single node.
// Implementations must be safe for concurrent use.
type Store interface {
	// Write schedules the chunk for persistence. It never blocks on the
	// chunk's computation. onDone fires exactly once, after the chunk's
	// value is available, receiving the chunk key and the raw result.
	Write(d *backend.Deferred, onDone func(key slicekey.Key, value any)) error

	// Read returns the persisted chunk record for key.
	// Returns ErrNotFound if the chunk is not persisted.
	Read(key slicekey.Key) (*backend.Deferred, error)

	// ReadData returns a lazy handle over the persisted sample block for
	// the given range, for composition back into the task graph. The
	// range must match a previously written chunk's full range.
	ReadData(r slicekey.Range) (*backend.Deferred, error)

	// Reset drops all bookkeeping. Underlying data already written to an
	// external medium is not necessarily erased.
	Reset() error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a chunk is not persisted in the store.
	ErrNotFound = errors.New("chunk not found in store")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrWrongNode indicates a read for a node other than the one the
	// store is bound to.
	ErrWrongNode = errors.New("store bound to a different node")

	// ErrNoCapacity indicates a write beyond a fixed-capacity buffer.
	ErrNoCapacity = errors.New("chunk exceeds buffer capacity")
)

// storedName derives the task-key name for data read back from a store,
// kept distinct from the live chunk's own key name.
func storedName(name string) string {
	return name + "-stored"
}
