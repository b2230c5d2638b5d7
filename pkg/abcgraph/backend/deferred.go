package backend

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// ComputeFunc is the pure function a task runs once its dependencies are
// resolved. The inputs slice holds the dependency values in order.
type ComputeFunc func(ctx context.Context, inputs []any) (any, error)

// Deferred is a lazily computed value in the task graph. A deferred is
// either a literal (value known at construction) or a task (compute
// function over dependency deferreds). Each deferred computes at most
// once; concurrent forcing is safe and later callers observe the
// memoized result.
type Deferred struct {
	key  slicekey.Key
	deps []*Deferred
	fn   ComputeFunc

	once sync.Once
	done atomic.Bool
	val  any
	err  error
}

// NewTask creates a deferred computation keyed by key over the given
// dependencies.
func NewTask(key slicekey.Key, fn ComputeFunc, deps ...*Deferred) *Deferred {
	return &Deferred{key: key, deps: deps, fn: fn}
}

// Literal creates a deferred whose value is already known.
func Literal(key slicekey.Key, value any) *Deferred {
	d := &Deferred{key: key, val: value}
	d.once.Do(func() {})
	d.done.Store(true)
	return d
}

// Anon creates a literal deferred with no key. Used for synthetic values
// such as the empty placeholder returned for zero-length reads.
func Anon(value any) *Deferred {
	return Literal(slicekey.Key{}, value)
}

// Key returns the content-addressable key of the deferred. Anonymous
// literals have a zero key.
func (d *Deferred) Key() slicekey.Key { return d.key }

// Resolved reports whether the value has been computed.
func (d *Deferred) Resolved() bool { return d.done.Load() }

// Output is the record a chunk computation resolves to. Data holds the
// chunk's sample block; the remaining fields are side channels echoed
// from the request.
type Output struct {
	// Data is the sample block; its first axis indexes samples.
	Data *tensor.Dense
	// N is the number of samples in the chunk.
	N int
	// Index is the global index of the chunk's first sample.
	Index int
	// Rand is the chunk's random source after the operation consumed it,
	// when the producing node is stochastic.
	Rand *rand.Rand
}

// WithData returns a copy of the output record with Data replaced.
func (o *Output) WithData(data *tensor.Dense) *Output {
	out := *o
	out.Data = data
	return &out
}

// DataOf extracts the sample block from a resolved task value, which is
// either a full chunk record or a bare matrix.
func DataOf(value any) (*tensor.Dense, error) {
	switch v := value.(type) {
	case *Output:
		return v.Data, nil
	case *tensor.Dense:
		return v, nil
	default:
		return nil, fmt.Errorf("task value %T carries no data block", value)
	}
}
