package abcgraph

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// chunkRequest bundles everything a chunk computation sees: the sample
// count, the chunk's global start index, the chunk's random source (nil
// for deterministic nodes), the parents' sample blocks for the same
// range, and the parents' observed values.
type chunkRequest struct {
	n        int
	index    int
	rng      *rand.Rand
	parents  []*tensor.Dense
	observed []*tensor.Dense
}

// chunkRule is a node kind's chunk-production function.
type chunkRule func(ctx context.Context, req *chunkRequest) (*tensor.Dense, error)

// SimulatorFunc generates n samples from the given random source.
// Each argument holds the matching parent's samples for the chunk, one
// row per sample; the result must likewise have n rows.
type SimulatorFunc func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error)

// SummaryFunc is a deterministic transform of parent data, applied
// independently per chunk. One row in, one row out, per sample.
type SummaryFunc func(args ...*tensor.Dense) (*tensor.Dense, error)

// DiscrepancyFunc compares the parents' generated data against the
// parents' observed data, returning one distance per sample. The slices
// are parallel: obs[i] is the observed value of the node behind sim[i].
type DiscrepancyFunc func(sim, obs []*tensor.Dense) (*tensor.Dense, error)

// RowWise adapts a per-sample simulator into the vectorized chunk rule:
// fn is called once per sample with single-row arguments and the rows
// are stacked. For simulators that cannot batch.
func RowWise(fn SimulatorFunc) SimulatorFunc {
	return func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
		parts := make([]*tensor.Dense, n)
		for i := 0; i < n; i++ {
			rowArgs := make([]*tensor.Dense, len(args))
			for j, a := range args {
				row, err := a.Slice(i, i+1)
				if err != nil {
					return nil, err
				}
				rowArgs[j] = row
			}
			out, err := fn(rng, 1, rowArgs...)
			if err != nil {
				return nil, err
			}
			parts[i] = out
		}
		return tensor.Vstack(parts...)
	}
}

// constantRow converts a raw constant value into its single-row form.
func constantRow(value any) (*tensor.Dense, error) {
	switch v := value.(type) {
	case *tensor.Dense:
		if v.Rows() != 1 {
			return nil, fmt.Errorf("constant with %d rows: %w", v.Rows(), tensor.ErrShape)
		}
		return v, nil
	case float64:
		return tensor.FromScalar(v), nil
	case int:
		return tensor.FromScalar(float64(v)), nil
	case []float64:
		data := make([]float64, len(v))
		copy(data, v)
		return tensor.New(1, len(v), data)
	default:
		return nil, fmt.Errorf("cannot use %T as a constant value", value)
	}
}

func constantRule(row *tensor.Dense) chunkRule {
	return func(_ context.Context, req *chunkRequest) (*tensor.Dense, error) {
		return row.Tile(req.n)
	}
}

func simulatorRule(fn SimulatorFunc) chunkRule {
	return func(_ context.Context, req *chunkRequest) (*tensor.Dense, error) {
		out, err := fn(req.rng, req.n, req.parents...)
		if err != nil {
			return nil, err
		}
		if out.Rows() != req.n {
			return nil, fmt.Errorf("simulator produced %d rows for %d samples: %w",
				out.Rows(), req.n, tensor.ErrShape)
		}
		return out, nil
	}
}

func summaryRule(fn SummaryFunc) chunkRule {
	return func(_ context.Context, req *chunkRequest) (*tensor.Dense, error) {
		return fn(req.parents...)
	}
}

func discrepancyRule(fn DiscrepancyFunc) chunkRule {
	return func(_ context.Context, req *chunkRequest) (*tensor.Dense, error) {
		return fn(req.parents, req.observed)
	}
}

// thresholdRule compares the single parent's values elementwise against
// a fixed limit, producing 1.0 where the value is strictly below it.
func thresholdRule(limit float64) chunkRule {
	return func(_ context.Context, req *chunkRequest) (*tensor.Dense, error) {
		in := req.parents[0]
		out := tensor.Zeros(in.Rows(), in.Cols())
		for i := 0; i < in.Rows(); i++ {
			for j := 0; j < in.Cols(); j++ {
				if in.At(i, j) < limit {
					out.Set(i, j, 1)
				}
			}
		}
		return out, nil
	}
}
