package abcgraph

import "github.com/randalmurphal/abcgraph/pkg/abcgraph/store"

// nodeConfig collects construction options for a node.
type nodeConfig struct {
	parents         []any
	observed        any
	inheritObserved bool
	store           store.Store
}

// NodeOption configures a node at construction.
type NodeOption func(*nodeConfig)

// Parents sets the ordered parent list. Each entry is either something
// carrying a graph node (an *Operation, a *Node, or a wrapper embedding
// either) or a raw value (float64, int, []float64, single-row matrix),
// which is converted into an anonymous constant node.
func Parents(parents ...any) NodeOption {
	return func(c *nodeConfig) {
		c.parents = append(c.parents, parents...)
	}
}

// Observed attaches the fixed reference data the node's generated
// samples are compared against. Accepts the same raw values as Parents.
func Observed(value any) NodeOption {
	return func(c *nodeConfig) {
		c.observed = value
	}
}

// InheritObserved requires the node's observed value to be derived by
// replaying its operation on the parents' observed values. Construction
// fails with an ObservedError if a parent carries none.
func InheritObserved() NodeOption {
	return func(c *nodeConfig) {
		c.inheritObserved = true
	}
}

// WithStore attaches a persistence store for the node's output chunks.
// The store must be used by exactly one node.
func WithStore(st store.Store) NodeOption {
	return func(c *nodeConfig) {
		c.store = st
	}
}

// callConfig collects per-call options for Acquire, Generate and
// GetSlice.
type callConfig struct {
	starting int
	batch    int
	values   map[string]any
}

// CallOption configures a single read or generate call.
type CallOption func(*callConfig)

// Starting sets the first sample index an Acquire call returns.
// Default: 0.
func Starting(index int) CallOption {
	return func(c *callConfig) {
		c.starting = index
	}
}

// BatchSize caps how many samples a single new chunk covers. Default:
// the whole request in one chunk.
func BatchSize(n int) CallOption {
	return func(c *callConfig) {
		c.batch = n
	}
}

// WithValues short-circuits the named nodes' operations, substituting
// the given values as if they had been computed. Values follow the same
// broadcast rules as Observed. Used to force specific parameter values
// through the graph.
func WithValues(values map[string]any) CallOption {
	return func(c *callConfig) {
		c.values = values
	}
}
