// Package slicekey provides the range and key algebra for chunked node
// output. A chunk of a node's output stream is addressed by a composite
// key of (node name, start index, length). The same key always denotes
// the same computation, which is what makes chunk results content
// addressable and safe to deduplicate or persist.
package slicekey

import (
	"errors"
	"fmt"
)

// ErrInvalidRange indicates a key was requested for a range with zero or
// negative length.
var ErrInvalidRange = errors.New("range has no length")

// Range is a half-open interval [Start, End) over sample indices.
type Range struct {
	Start int
	End   int
}

// NewRange returns the half-open range [start, end).
func NewRange(start, end int) Range {
	return Range{Start: start, End: end}
}

// Len returns the length of the range. Empty or inverted ranges have
// length zero.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range covers no indices.
func (r Range) Empty() bool {
	return r.Len() == 0
}

// Shift returns the range translated left by offset, used to rebase a
// global index range into chunk-local coordinates.
func (r Range) Shift(offset int) Range {
	return Range{Start: r.Start - offset, End: r.End - offset}
}

// Contains reports whether r fully covers other.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Intersect returns the overlap of two ranges. The result may be empty;
// callers should check Len before using it.
func Intersect(a, b Range) Range {
	start := max(a.Start, b.Start)
	end := min(a.End, b.End)
	if end < start {
		end = start
	}
	return Range{Start: start, End: end}
}

// Key addresses one chunk of one node's output stream.
type Key struct {
	Name   string
	Start  int
	Length int
}

// New builds the key for a node's output over the given range.
// Returns ErrInvalidRange if the range has no length.
func New(name string, r Range) (Key, error) {
	if r.Len() <= 0 {
		return Key{}, fmt.Errorf("key %q %s: %w", name, r, ErrInvalidRange)
	}
	return Key{Name: name, Start: r.Start, Length: r.Len()}, nil
}

// MustNew is New that panics on an invalid range. Intended for ranges the
// caller has already validated.
func MustNew(name string, r Range) Key {
	k, err := New(name, r)
	if err != nil {
		panic(err)
	}
	return k
}

// Range returns the index range the key covers.
func (k Key) Range() Range {
	return Range{Start: k.Start, End: k.Start + k.Length}
}

// WithRange returns a key for the same name over a new range.
func (k Key) WithRange(r Range) (Key, error) {
	return New(k.Name, r)
}

// WithName returns a key for the same range under a new name.
func (k Key) WithName(name string) Key {
	return Key{Name: name, Start: k.Start, Length: k.Length}
}

// Zero reports whether the key is the zero value (an anonymous task).
func (k Key) Zero() bool {
	return k == Key{}
}

func (k Key) String() string {
	return fmt.Sprintf("%s[%d:%d)", k.Name, k.Start, k.Start+k.Length)
}
