package methods

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// Result holds one batch of accepted posterior samples.
type Result struct {
	// Samples maps each parameter node's name to its accepted values,
	// one row per accepted particle, in acceptance order.
	Samples map[string]*tensor.Dense

	// Threshold is the acceptance threshold: in quantile mode the n-th
	// smallest discrepancy among the simulated draws.
	Threshold float64

	// NSim is the number of simulated draws the result was distilled
	// from.
	NSim int
}

// Accepted returns the number of accepted particles.
func (r *Result) Accepted() int {
	for _, s := range r.Samples {
		return s.Rows()
	}
	return 0
}

// Option configures an inference method.
type Option func(*options)

type options struct {
	batch int
}

// WithBatchSize caps how many samples a single chunk covers during
// simulation. Default: the whole request in one chunk.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batch = n
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Rejection is the ABC rejection sampler: simulate many parameter
// draws, keep those whose discrepancy against the observed data is
// smallest. Repeated calls reuse every sample already cached by the
// graph.
type Rejection struct {
	d      *abcgraph.Operation
	params []*abcgraph.Operation
	batch  int
}

// NewRejection builds a rejection sampler over the given discrepancy
// node. The params are the parameter nodes whose accepted values make
// up the posterior sample.
func NewRejection(d *abcgraph.Operation, params []*abcgraph.Operation, opts ...Option) *Rejection {
	o := newOptions(opts)
	return &Rejection{d: d, params: params, batch: o.batch}
}

// SampleQuantile runs ceil(n/q) simulations and accepts the n with the
// smallest discrepancies. The reported threshold is the n-th smallest
// discrepancy.
func (r *Rejection) SampleQuantile(ctx context.Context, n int, q float64) (*Result, error) {
	if q <= 0 || q > 1 {
		return nil, fmt.Errorf("quantile %v outside (0, 1]", q)
	}
	nSim := int(math.Ceil(float64(n) / q))

	dist, err := r.distances(ctx, nSim)
	if err != nil {
		return nil, err
	}

	order := sortedIndices(dist)
	accepted := order[:n]
	threshold := dist.At(order[n-1], 0)

	samples, err := r.collect(ctx, nSim, accepted)
	if err != nil {
		return nil, err
	}
	return &Result{Samples: samples, Threshold: threshold, NSim: nSim}, nil
}

// SampleThreshold runs nSim simulations and accepts every draw whose
// discrepancy is strictly below the threshold. The number of accepted
// particles varies with the data.
func (r *Rejection) SampleThreshold(ctx context.Context, nSim int, threshold float64) (*Result, error) {
	dist, err := r.distances(ctx, nSim)
	if err != nil {
		return nil, err
	}

	var accepted []int
	for i := 0; i < nSim; i++ {
		if dist.At(i, 0) < threshold {
			accepted = append(accepted, i)
		}
	}

	samples, err := r.collect(ctx, nSim, accepted)
	if err != nil {
		return nil, err
	}
	return &Result{Samples: samples, Threshold: threshold, NSim: nSim}, nil
}

func (r *Rejection) distances(ctx context.Context, nSim int) (*tensor.Dense, error) {
	return r.d.Acquire(ctx, nSim, abcgraph.BatchSize(r.batch))
}

// collect gathers the accepted rows of every parameter node. The
// values are already cached from the discrepancy generation, so this
// never re-simulates.
func (r *Rejection) collect(ctx context.Context, nSim int, accepted []int) (map[string]*tensor.Dense, error) {
	samples := make(map[string]*tensor.Dense, len(r.params))
	for _, p := range r.params {
		values, err := p.Acquire(ctx, nSim, abcgraph.BatchSize(r.batch))
		if err != nil {
			return nil, err
		}
		samples[p.Name()] = values.Take(accepted)
	}
	return samples, nil
}

// sortedIndices returns row indices ordered by ascending first-column
// value.
func sortedIndices(dist *tensor.Dense) []int {
	order := make([]int, dist.Rows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dist.At(order[a], 0) < dist.At(order[b], 0)
	})
	return order
}
