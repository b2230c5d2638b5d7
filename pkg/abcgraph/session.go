package abcgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/observability"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/store"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// Session owns what a model graph shares: the compute backend, the seed
// and the substream allocation, and the observability hooks. Multiple
// independent sessions in one process never collide on random state.
type Session struct {
	id      string
	seed    uint64
	b       backend.Backend
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	substreams atomic.Uint64

	mu     sync.Mutex
	stores []store.Store
}

// SessionOption configures a session.
type SessionOption func(*Session)

// WithSeed sets the master seed all substreams derive from. Default: 0.
func WithSeed(seed uint64) SessionOption {
	return func(s *Session) {
		s.seed = seed
	}
}

// WithLogger sets the structured logger. Default: no logging.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) SessionOption {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpans sets the span manager. Default: no-op.
func WithSpans(sm observability.SpanManager) SessionOption {
	return func(s *Session) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// NewSession creates an inference session over the given backend.
func NewSession(b backend.Backend, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		b:       b,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Backend returns the session's compute backend.
func (s *Session) Backend() backend.Backend { return s.b }

// nextSubstream allocates a substream index. Indices increase
// monotonically and are never reused within the session.
func (s *Session) nextSubstream() uint64 {
	return s.substreams.Add(1) - 1
}

func (s *Session) trackStore(st store.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores = append(s.stores, st)
}

// Close closes every store attached through the session's constructors
// and then the backend, aggregating all errors.
func (s *Session) Close() error {
	s.mu.Lock()
	stores := s.stores
	s.stores = nil
	s.mu.Unlock()

	var err error
	for _, st := range stores {
		err = multierr.Append(err, st.Close())
	}
	return multierr.Append(err, s.b.Close())
}

func newNodeConfig(opts []NodeOption) *nodeConfig {
	cfg := &nodeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// newOperation wires the common parts of every node kind: the graph
// node, the cache, the parent conversion, and the observed value.
func (s *Session) newOperation(name string, rule chunkRule, stochastic bool, cfg *nodeConfig) (*Operation, error) {
	op := &Operation{
		Node:       Node{name: name},
		sess:       s,
		rule:       rule,
		stochastic: stochastic,
		logger:     observability.EnrichLogger(s.logger, s.id, name),
		streams:    map[int]uint64{},
	}
	op.Node.op = op
	op.cache = newOutputCache(name, cfg.store, op.logger, s.metrics)
	if cfg.store != nil {
		s.trackStore(cfg.store)
	}

	for _, raw := range cfg.parents {
		p, err := s.convertParent(raw)
		if err != nil {
			return nil, err
		}
		op.AddParent(p)
	}

	if cfg.observed != nil {
		obs, err := tensor.Normalize(cfg.observed, 1)
		if err != nil {
			return nil, fmt.Errorf("node %q observed value: %w", name, err)
		}
		op.observed = obs
	}
	return op, nil
}

// convertParent turns a raw value passed as a parent into a node.
// Anything carrying a graph node (a *Node, an *Operation, or a wrapper
// embedding either, such as a method-layer prior) is used directly;
// other values become anonymous constants.
func (s *Session) convertParent(v any) (*Node, error) {
	if p, ok := v.(interface{ GraphNode() *Node }); ok {
		return p.GraphNode(), nil
	}
	c, err := s.Constant("const-"+uuid.NewString()[:8], v)
	if err != nil {
		return nil, err
	}
	return &c.Node, nil
}

// inheritObserved derives a node's observed value by replaying its
// operation on the parents' observed values. Without required, a parent
// carrying no observed value leaves the node unobserved; with it, that
// is an ObservedError.
func (s *Session) inheritObserved(op *Operation, required bool) error {
	if op.observed != nil {
		return nil
	}
	if len(op.parents) == 0 {
		if required {
			return fmt.Errorf("node %q has no parents to inherit from: %w", op.name, ErrNoObserved)
		}
		return nil
	}

	obs := make([]*tensor.Dense, len(op.parents))
	n := 1
	for i, p := range op.parents {
		if p.op == nil || p.op.observed == nil {
			if required {
				return &ObservedError{Node: op.name, Parent: p.name}
			}
			return nil
		}
		obs[i] = p.op.observed
		if obs[i].Rows() > n {
			n = obs[i].Rows()
		}
	}

	req := &chunkRequest{n: n, index: 0, parents: obs, observed: obs}
	if op.stochastic {
		req.rng = substreamRand(s.seed, s.nextSubstream())
	}
	data, err := op.rule(context.Background(), req)
	if err != nil {
		return fmt.Errorf("node %q: derive observed value: %w", op.name, err)
	}
	op.observed = data
	return nil
}

// Constant builds a node whose every chunk broadcasts a fixed value
// across the chunk's sample count. The value itself doubles as the
// node's observed value.
func (s *Session) Constant(name string, value any, opts ...NodeOption) (*Operation, error) {
	cfg := newNodeConfig(opts)
	row, err := constantRow(value)
	if err != nil {
		return nil, fmt.Errorf("constant %q: %w", name, err)
	}
	op, err := s.newOperation(name, constantRule(row), false, cfg)
	if err != nil {
		return nil, err
	}
	if op.observed == nil {
		op.observed = row
	}
	return op, nil
}

// Simulator builds a randomness-bearing node around a stochastic
// generator. Each chunk consumes a fresh, never-reused random
// substream. An observed value may be attached or, when all parents
// carry one, derived by replaying the generator once.
func (s *Session) Simulator(name string, fn SimulatorFunc, opts ...NodeOption) (*Operation, error) {
	cfg := newNodeConfig(opts)
	op, err := s.newOperation(name, simulatorRule(fn), true, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.inheritObserved(op, cfg.inheritObserved); err != nil {
		return nil, err
	}
	return op, nil
}

// Summary builds a deterministic transform of its parents' data. Its
// observed value is inherited from the parents' observed values when
// not supplied.
func (s *Session) Summary(name string, fn SummaryFunc, opts ...NodeOption) (*Operation, error) {
	cfg := newNodeConfig(opts)
	op, err := s.newOperation(name, summaryRule(fn), false, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.inheritObserved(op, cfg.inheritObserved); err != nil {
		return nil, err
	}
	return op, nil
}

// Discrepancy builds a node applying a distance function between the
// parents' generated data and their observed data. Every parent must
// carry an observed value.
func (s *Session) Discrepancy(name string, fn DiscrepancyFunc, opts ...NodeOption) (*Operation, error) {
	cfg := newNodeConfig(opts)
	op, err := s.newOperation(name, discrepancyRule(fn), false, cfg)
	if err != nil {
		return nil, err
	}
	for _, p := range op.parents {
		if p.op == nil || p.op.observed == nil {
			return nil, &ObservedError{Node: name, Parent: p.name}
		}
	}
	return op, nil
}

// Threshold builds a node comparing its single parent's values
// elementwise against a fixed limit, producing ones below it and zeros
// elsewhere.
func (s *Session) Threshold(name string, limit float64, opts ...NodeOption) (*Operation, error) {
	cfg := newNodeConfig(opts)
	op, err := s.newOperation(name, thresholdRule(limit), false, cfg)
	if err != nil {
		return nil, err
	}
	if len(op.parents) != 1 {
		return nil, fmt.Errorf("threshold %q needs exactly one parent, got %d", name, len(op.parents))
	}
	return op, nil
}

// MustConstant is Constant that panics on error.
func (s *Session) MustConstant(name string, value any, opts ...NodeOption) *Operation {
	return must(s.Constant(name, value, opts...))
}

// MustSimulator is Simulator that panics on error.
func (s *Session) MustSimulator(name string, fn SimulatorFunc, opts ...NodeOption) *Operation {
	return must(s.Simulator(name, fn, opts...))
}

// MustSummary is Summary that panics on error.
func (s *Session) MustSummary(name string, fn SummaryFunc, opts ...NodeOption) *Operation {
	return must(s.Summary(name, fn, opts...))
}

// MustDiscrepancy is Discrepancy that panics on error.
func (s *Session) MustDiscrepancy(name string, fn DiscrepancyFunc, opts ...NodeOption) *Operation {
	return must(s.Discrepancy(name, fn, opts...))
}

// MustThreshold is Threshold that panics on error.
func (s *Session) MustThreshold(name string, limit float64, opts ...NodeOption) *Operation {
	return must(s.Threshold(name, limit, opts...))
}

func must(op *Operation, err error) *Operation {
	if err != nil {
		panic(err)
	}
	return op
}
