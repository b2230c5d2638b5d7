package abcgraph

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
)

// Sentinel errors for graph and cache operations.
var (
	// ErrOutOfSequence indicates a cache append whose range does not
	// start exactly at the current cache length.
	ErrOutOfSequence = errors.New("chunk out of sequence")

	// ErrParentNotFound indicates a structural edge operation referencing
	// a node that is not actually a parent.
	ErrParentNotFound = errors.New("node is not a parent")

	// ErrNoObserved indicates observed-value inheritance was requested
	// but a parent carries no observed value.
	ErrNoObserved = errors.New("no observed value")
)

// SequenceError reports an append that would break the cache's gap-free
// invariant: the chunk's range must start exactly at the current length.
type SequenceError struct {
	Key    slicekey.Key
	Length int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("append %s to cache of length %d: %v", e.Key, e.Length, ErrOutOfSequence)
}

func (e *SequenceError) Unwrap() error {
	return ErrOutOfSequence
}

// ObservedError reports a node whose observed value could not be
// derived because a parent carries none.
type ObservedError struct {
	Node   string
	Parent string
}

func (e *ObservedError) Error() string {
	return fmt.Sprintf("node %q: parent %q: %v", e.Node, e.Parent, ErrNoObserved)
}

func (e *ObservedError) Unwrap() error {
	return ErrNoObserved
}

// CallbackMismatchError reports a store completion callback for a chunk
// the owning cache no longer tracks, typically a persist racing with a
// reset. The mismatch is logged when it happens and surfaced on the
// next blocking read.
type CallbackMismatchError struct {
	Node string
	Key  slicekey.Key
}

func (e *CallbackMismatchError) Error() string {
	return fmt.Sprintf("node %q: store callback for unknown chunk %s", e.Node, e.Key)
}
