// Package backend provides the compute layer under the node graph: a
// deferred task representation and backends that force tasks to values.
//
// The core engine never schedules work itself. It builds deferred tasks
// keyed by (node name, start, length) and hands them to a Backend, which
// resolves dependencies, runs the compute functions on a worker pool,
// and optionally pins results so they outlive the task graph that
// produced them. Forcing a deferred is the only blocking operation.
package backend

import (
	"context"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
)

// Backend executes deferred task graphs.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Force computes the deferred value, blocking until the result (or
	// the first dependency error) is available. Forcing an already
	// resolved deferred returns the memoized value.
	Force(ctx context.Context, d *Deferred) (any, error)

	// Persist schedules d for computation in the background and pins its
	// result under d's key so it survives after the producing task graph
	// is dropped. Persist never blocks. onDone fires exactly once, after
	// the value is computed, and is not called if the computation fails.
	Persist(d *Deferred, onDone func(key slicekey.Key, value any))

	// Stored returns the pinned deferred for key, if one exists.
	Stored(key slicekey.Key) (*Deferred, bool)

	// Unpin drops every pinned result belonging to the named node.
	// Pinned results for other nodes are unaffected.
	Unpin(name string)

	// Close waits for in-flight background persists and releases the
	// backend's resources.
	Close() error
}
