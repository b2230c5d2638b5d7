package methods

import (
	"fmt"
	"math/rand/v2"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// Prior is a stochastic root node bundled with its density, the minimum
// a sequential sampler needs to reweight particles.
type Prior struct {
	*abcgraph.Operation

	// Pdf evaluates the prior density at a point.
	Pdf func(x float64) float64
}

// Uniform builds a U(low, high) prior node.
func Uniform(sess *abcgraph.Session, name string, low, high float64) (*Prior, error) {
	if high <= low {
		return nil, fmt.Errorf("uniform prior %q: bounds [%v, %v] are empty", name, low, high)
	}
	width := high - low

	op, err := sess.Simulator(name, func(rng *rand.Rand, n int, _ ...*tensor.Dense) (*tensor.Dense, error) {
		out := tensor.Zeros(n, 1)
		for i := 0; i < n; i++ {
			out.Set(i, 0, low+width*rng.Float64())
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return &Prior{
		Operation: op,
		Pdf: func(x float64) float64 {
			if x < low || x > high {
				return 0
			}
			return 1 / width
		},
	}, nil
}
