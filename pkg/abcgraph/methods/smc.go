package methods

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.uber.org/multierr"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

// SMC is the sequential Monte Carlo ABC sampler: iterated rejection
// over a tightening quantile schedule. Between populations each prior
// is swapped, via node replacement, for a perturbation-kernel proposal
// sampling near the previous weighted particles, and particles are
// reweighted by the prior-to-proposal density ratio. The original
// priors are restored when sampling finishes, also on error.
type SMC struct {
	sess   *abcgraph.Session
	d      *abcgraph.Operation
	priors []*Prior
	batch  int
}

// Population is one SMC population: accepted samples keyed by the
// original prior names, importance weights normalized to one, and the
// kernel widths used to propose it.
type Population struct {
	Result

	Weights []float64
	Sigmas  map[string]float64
}

// NewSMC builds a sequential sampler over the given discrepancy node
// and its parameter priors.
func NewSMC(sess *abcgraph.Session, d *abcgraph.Operation, priors []*Prior, opts ...Option) *SMC {
	o := newOptions(opts)
	return &SMC{sess: sess, d: d, priors: priors, batch: o.batch}
}

// Sample draws n particles per population over the quantile schedule
// and returns every population, the last being the final posterior
// approximation.
func (s *SMC) Sample(ctx context.Context, n int, schedule []float64) (pops []*Population, err error) {
	if len(schedule) == 0 {
		return nil, fmt.Errorf("empty quantile schedule")
	}

	current := make([]*abcgraph.Operation, len(s.priors))
	for i, p := range s.priors {
		current[i] = p.Operation
	}
	defer func() {
		err = multierr.Append(err, s.restore(current))
	}()

	for t, q := range schedule {
		var sigmas map[string]float64
		if t > 0 {
			prev := pops[t-1]
			sigmas = make(map[string]float64, len(s.priors))
			for i, p := range s.priors {
				name := p.Name()
				sigma := kernelSigma(prev.Samples[name], prev.Weights)
				kp, kerr := s.kernelPrior(fmt.Sprintf("%s-pop%d", name, t),
					prev.Samples[name], prev.Weights, sigma)
				if kerr != nil {
					return pops, kerr
				}
				current[i].ReplaceBy(kp.GraphNode(), false, true)
				current[i] = kp
				sigmas[name] = sigma
			}
			// Everything downstream was produced under the old priors.
			for _, c := range current {
				if rerr := c.Reset(true); rerr != nil {
					return pops, rerr
				}
			}
		}

		rej := NewRejection(s.d, current, WithBatchSize(s.batch))
		res, rerr := rej.SampleQuantile(ctx, n, q)
		if rerr != nil {
			return pops, rerr
		}

		// Re-key the samples from the proposal node names back to the
		// original prior names.
		samples := make(map[string]*tensor.Dense, len(s.priors))
		for i, p := range s.priors {
			samples[p.Name()] = res.Samples[current[i].Name()]
		}
		res.Samples = samples

		weights := make([]float64, n)
		if t == 0 {
			for i := range weights {
				weights[i] = 1 / float64(n)
			}
		} else {
			weights = s.reweight(pops[t-1], sigmas, samples, n)
		}
		pops = append(pops, &Population{Result: *res, Weights: weights, Sigmas: sigmas})
	}
	return pops, nil
}

// restore swaps the original priors back into the graph and resets
// their subtrees so the model is usable afterwards.
func (s *SMC) restore(current []*abcgraph.Operation) error {
	dirty := false
	for i, p := range s.priors {
		if current[i] == p.Operation {
			continue
		}
		current[i].ReplaceBy(p.Operation.GraphNode(), false, true)
		current[i] = p.Operation
		dirty = true
	}
	if !dirty {
		return nil
	}
	var err error
	for _, p := range s.priors {
		err = multierr.Append(err, p.Operation.Reset(true))
	}
	return err
}

// kernelPrior builds the proposal node for one parameter: pick a
// previous particle by weight, perturb it with Gaussian noise of the
// kernel width.
func (s *SMC) kernelPrior(name string, particles *tensor.Dense, weights []float64, sigma float64) (*abcgraph.Operation, error) {
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		cum[i] = total
	}

	fn := func(rng *rand.Rand, n int, _ ...*tensor.Dense) (*tensor.Dense, error) {
		out := tensor.Zeros(n, 1)
		for i := 0; i < n; i++ {
			j := sort.SearchFloat64s(cum, rng.Float64()*total)
			if j >= len(cum) {
				j = len(cum) - 1
			}
			out.Set(i, 0, particles.At(j, 0)+sigma*rng.NormFloat64())
		}
		return out, nil
	}
	return s.sess.Simulator(name, fn)
}

// reweight computes normalized importance weights for the particles in
// samples: the joint prior density over the mixture density of the
// proposal that generated them.
func (s *SMC) reweight(prev *Population, sigmas map[string]float64, samples map[string]*tensor.Dense, n int) []float64 {
	w := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		num := 1.0
		for _, p := range s.priors {
			num *= p.Pdf(samples[p.Name()].At(i, 0))
		}
		den := 0.0
		for j, pw := range prev.Weights {
			k := pw
			for _, p := range s.priors {
				name := p.Name()
				k *= normPdf(samples[name].At(i, 0), prev.Samples[name].At(j, 0), sigmas[name])
			}
			den += k
		}
		if den > 0 {
			w[i] = num / den
		}
		total += w[i]
	}
	if total > 0 {
		for i := range w {
			w[i] /= total
		}
	}
	return w
}

// kernelSigma is the perturbation width for one parameter: the square
// root of twice the weighted particle variance.
func kernelSigma(values *tensor.Dense, weights []float64) float64 {
	mean := 0.0
	for i, w := range weights {
		mean += w * values.At(i, 0)
	}
	variance := 0.0
	for i, w := range weights {
		d := values.At(i, 0) - mean
		variance += w * d * d
	}
	return math.Sqrt(2 * variance)
}

// normPdf is the Gaussian density. A zero width, the degenerate case of
// a particle population collapsed onto one value, is treated as a point
// mass so the weights stay finite.
func normPdf(x, mu, sigma float64) float64 {
	if sigma <= 0 {
		if x == mu {
			return 1
		}
		return 0
	}
	z := (x - mu) / sigma
	return math.Exp(-0.5*z*z) / (sigma * math.Sqrt(2*math.Pi))
}
