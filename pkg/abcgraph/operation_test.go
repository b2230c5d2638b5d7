package abcgraph

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/abcgraph/pkg/abcgraph/backend"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/slicekey"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/store"
	"github.com/randalmurphal/abcgraph/pkg/abcgraph/tensor"
)

func newTestSession(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	sess := NewSession(backend.NewLocal(), opts...)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// uniformSim draws n samples from U(0, 1).
func uniformSim(rng *rand.Rand, n int, _ ...*tensor.Dense) (*tensor.Dense, error) {
	out := tensor.Zeros(n, 1)
	for i := 0; i < n; i++ {
		out.Set(i, 0, rng.Float64())
	}
	return out, nil
}

// noisySim adds U(0, 1) noise to its single parent.
func noisySim(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
	out := tensor.Zeros(n, 1)
	for i := 0; i < n; i++ {
		out.Set(i, 0, args[0].At(i, 0)+rng.Float64())
	}
	return out, nil
}

// doubleSummary multiplies every element of its single parent by two.
func doubleSummary(args ...*tensor.Dense) (*tensor.Dense, error) {
	in := args[0]
	out := tensor.Zeros(in.Rows(), in.Cols())
	for i := 0; i < in.Rows(); i++ {
		for j := 0; j < in.Cols(); j++ {
			out.Set(i, j, 2*in.At(i, j))
		}
	}
	return out, nil
}

// absDist is the absolute difference of first columns, per sample.
func absDist(sim, obs []*tensor.Dense) (*tensor.Dense, error) {
	gen := sim[0]
	ref := obs[0].At(0, 0)
	out := tensor.Zeros(gen.Rows(), 1)
	for i := 0; i < gen.Rows(); i++ {
		out.Set(i, 0, math.Abs(gen.At(i, 0)-ref))
	}
	return out, nil
}

func TestAcquireMatchesGetSlice(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(7))
	sim := sess.MustSimulator("sim", uniformSim)

	full, err := sim.Acquire(ctx, 10, BatchSize(3))
	require.NoError(t, err)
	require.Equal(t, 10, full.Rows())

	d, err := sim.GetSlice(ctx, slicekey.NewRange(4, 9))
	require.NoError(t, err)
	v, err := sess.Backend().Force(ctx, d)
	require.NoError(t, err)
	sub, err := backend.DataOf(v)
	require.NoError(t, err)

	want, err := full.Slice(4, 9)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(want.Clone(), sub))
}

func TestDeterministicAcrossSessions(t *testing.T) {
	ctx := context.Background()
	draw := func() *tensor.Dense {
		sess := newTestSession(t, WithSeed(42))
		sim := sess.MustSimulator("sim", uniformSim)
		data, err := sim.Acquire(ctx, 8, BatchSize(4))
		require.NoError(t, err)
		return data
	}
	assert.True(t, tensor.Equal(draw(), draw()))
}

func TestRegenerateAfterResetIsIdentical(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(3))
	sim := sess.MustSimulator("sim", uniformSim)

	first, err := sim.Acquire(ctx, 6, BatchSize(2))
	require.NoError(t, err)
	require.NoError(t, sim.Reset(true))
	assert.Equal(t, 0, sim.Generated())

	second, err := sim.Acquire(ctx, 6, BatchSize(2))
	require.NoError(t, err)
	assert.True(t, tensor.Equal(first, second))
}

func TestIndependentKeys(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(11))

	pair := func(prefix string) *Operation {
		prior := sess.MustSimulator(prefix+"-prior", uniformSim)
		return sess.MustSimulator(prefix+"-sim", noisySim, Parents(prior))
	}
	sim1 := pair("a")
	sim2 := pair("b")

	d1, err := sim1.Acquire(ctx, 20, BatchSize(10))
	require.NoError(t, err)
	d2, err := sim2.Acquire(ctx, 20, BatchSize(10))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.NotEqual(t, d1.At(i, 0), d2.At(i, 0), "sample %d", i)
	}
}

func TestCachingEndToEnd(t *testing.T) {
	const delay = 80 * time.Millisecond
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(1))

	var calls atomic.Int64
	slow := func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
		calls.Add(1)
		time.Sleep(delay)
		return uniformSim(rng, n, args...)
	}
	sim := sess.MustSimulator("sim", slow)
	sum := sess.MustSummary("sum", doubleSummary, Parents(sim))

	start := time.Now()
	first, err := sim.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay)

	start = time.Now()
	second, err := sim.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), delay)
	assert.True(t, tensor.Equal(first, second))

	// The downstream summary reuses the memoized simulator chunk.
	start = time.Now()
	doubled, err := sum.Acquire(ctx, 1)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), delay)
	assert.Equal(t, 2*first.At(0, 0), doubled.At(0, 0))
	assert.Equal(t, int64(1), calls.Load())
}

func TestResetPropagation(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(5))

	var calls atomic.Int64
	counting := func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
		calls.Add(1)
		return uniformSim(rng, n, args...)
	}
	prior := sess.MustSimulator("prior", counting)
	sum := sess.MustSummary("sum", doubleSummary, Parents(prior))

	_, err := sum.Acquire(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	// Non-propagating reset: the descendant keeps serving its stale
	// cache and the prior is not re-invoked.
	require.NoError(t, prior.Reset(false))
	_, err = sum.Acquire(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 3, sum.Generated())

	// Propagating reset invalidates the descendant, forcing recompute.
	require.NoError(t, prior.Reset(true))
	assert.Equal(t, 0, sum.Generated())
	_, err = sum.Acquire(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestWithValuesShortCircuit(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(2))

	var calls atomic.Int64
	counting := func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
		calls.Add(1)
		return uniformSim(rng, n, args...)
	}
	prior := sess.MustSimulator("prior", counting)
	sum := sess.MustSummary("double", doubleSummary, Parents(prior))

	h, err := sum.Generate(ctx, 3, WithValues(map[string]any{
		"prior": []float64{1, 2, 3},
	}))
	require.NoError(t, err)
	v, err := sess.Backend().Force(ctx, h)
	require.NoError(t, err)
	data, err := backend.DataOf(v)
	require.NoError(t, err)

	assert.Equal(t, []float64{2}, data.Row(0))
	assert.Equal(t, []float64{6}, data.Row(2))
	// The prior's own operation never ran.
	assert.Equal(t, int64(0), calls.Load())
}

func TestWithValuesBatched(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(2))

	var calls atomic.Int64
	counting := func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
		calls.Add(1)
		return uniformSim(rng, n, args...)
	}
	prior := sess.MustSimulator("prior", counting)
	sum := sess.MustSummary("double", doubleSummary, Parents(prior))

	read := func(h *backend.Deferred) *tensor.Dense {
		t.Helper()
		v, err := sess.Backend().Force(ctx, h)
		require.NoError(t, err)
		data, err := backend.DataOf(v)
		require.NoError(t, err)
		return data
	}

	// The forced values span the generate window; each batch takes its
	// own rows out of them.
	h, err := sum.Generate(ctx, 4, BatchSize(2), WithValues(map[string]any{
		"prior": []float64{1, 2, 3, 4},
	}))
	require.NoError(t, err)
	data := read(h)
	require.Equal(t, 4, data.Rows())
	assert.Equal(t, []float64{2}, data.Row(0))
	assert.Equal(t, []float64{6}, data.Row(2))
	assert.Equal(t, []float64{8}, data.Row(3))
	assert.Equal(t, int64(0), calls.Load())

	// A later call generates past the cached prefix; its forced values
	// cover only the new samples.
	h2, err := sum.Generate(ctx, 2, WithValues(map[string]any{
		"prior": []float64{5, 6},
	}))
	require.NoError(t, err)
	data = read(h2)
	assert.Equal(t, []float64{10}, data.Row(0))
	assert.Equal(t, []float64{12}, data.Row(1))
	assert.Equal(t, int64(0), calls.Load())
}

func TestWithValuesScalarBroadcast(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(2))
	prior := sess.MustSimulator("prior", uniformSim)
	sum := sess.MustSummary("double", doubleSummary, Parents(prior))

	h, err := sum.Generate(ctx, 4, BatchSize(3), WithValues(map[string]any{
		"prior": 0.5,
	}))
	require.NoError(t, err)
	v, err := sess.Backend().Force(ctx, h)
	require.NoError(t, err)
	data, err := backend.DataOf(v)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 1.0, data.At(i, 0), "sample %d", i)
	}
}

func TestWithValuesRowMismatch(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t)
	prior := sess.MustSimulator("prior", uniformSim)

	_, err := prior.Generate(ctx, 3, WithValues(map[string]any{
		"prior": []float64{1, 2},
	}))
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestGenerateAdvancesIndex(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(9))
	sim := sess.MustSimulator("sim", uniformSim)

	h, err := sim.Generate(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, sim.Generated())

	v, err := sess.Backend().Force(ctx, h)
	require.NoError(t, err)
	data, err := backend.DataOf(v)
	require.NoError(t, err)
	assert.Equal(t, 4, data.Rows())

	// The next call covers the following range.
	h2, err := sim.Generate(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, sim.Generated())
	assert.Equal(t, slicekey.NewRange(4, 6), h2.Key().Range())
}

func TestGetSliceDoesNotAdvanceIndex(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(9))
	sim := sess.MustSimulator("sim", uniformSim)

	_, err := sim.GetSlice(ctx, slicekey.NewRange(0, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, sim.Generated())

	// Acquire then finds the range already cached.
	data, err := sim.Acquire(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, data.Rows())
	assert.Equal(t, 5, sim.Generated())
}

func TestAcquireStarting(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(4))
	sim := sess.MustSimulator("sim", uniformSim)

	full, err := sim.Acquire(ctx, 10)
	require.NoError(t, err)

	tail, err := sim.Acquire(ctx, 4, Starting(6))
	require.NoError(t, err)
	want, err := full.Slice(6, 10)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(want.Clone(), tail))
	assert.Equal(t, 10, sim.Generated())
}

func TestConstantBroadcast(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t)

	c, err := sess.Constant("c", 3.5)
	require.NoError(t, err)
	data, err := c.Acquire(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, data.Rows())
	assert.Equal(t, 3.5, data.At(3, 0))

	v, err := sess.Constant("v", []float64{1, 2})
	require.NoError(t, err)
	data, err = v.Acquire(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, data.Rows())
	assert.Equal(t, []float64{1, 2}, data.Row(2))
}

func TestWrappedOperationParent(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(3))

	// A wrapper embedding an operation, the shape the methods layer's
	// priors have, connects as itself rather than as a constant.
	type handle struct{ *Operation }
	prior := handle{sess.MustSimulator("prior", uniformSim)}
	sum, err := sess.Summary("double", doubleSummary, Parents(prior))
	require.NoError(t, err)
	require.Len(t, sum.Parents(), 1)
	assert.Equal(t, "prior", sum.Parents()[0].Name())

	data, err := sum.Acquire(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, data.Rows())
}

func TestRawValueParent(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t)

	shift := func(args ...*tensor.Dense) (*tensor.Dense, error) {
		out := tensor.Zeros(args[0].Rows(), 1)
		for i := 0; i < out.Rows(); i++ {
			out.Set(i, 0, args[0].At(i, 0)+args[1].At(i, 0))
		}
		return out, nil
	}
	base, err := sess.Constant("base", 1.0)
	require.NoError(t, err)
	sum, err := sess.Summary("shift", shift, Parents(base, 2.5))
	require.NoError(t, err)

	data, err := sum.Acquire(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.5, data.At(2, 0))
}

func TestThreshold(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(6))
	prior := sess.MustSimulator("prior", uniformSim)
	th := sess.MustThreshold("accept", 0.5, Parents(prior))

	flags, err := th.Acquire(ctx, 100)
	require.NoError(t, err)
	values, err := prior.Acquire(ctx, 100)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		want := 0.0
		if values.At(i, 0) < 0.5 {
			want = 1.0
		}
		assert.Equal(t, want, flags.At(i, 0), "sample %d", i)
	}
}

func TestObservedInheritance(t *testing.T) {
	sess := newTestSession(t)

	obs, err := tensor.New(1, 1, []float64{0.4})
	require.NoError(t, err)
	sim := sess.MustSimulator("sim", uniformSim, Observed(obs))
	sum := sess.MustSummary("double", doubleSummary, Parents(sim))

	inherited, ok := sum.Observed()
	require.True(t, ok)
	assert.Equal(t, 0.8, inherited.At(0, 0))
}

func TestObservedRequired(t *testing.T) {
	sess := newTestSession(t)
	sim := sess.MustSimulator("sim", uniformSim)

	// Explicit inheritance over an unobserved parent fails.
	_, err := sess.Summary("sum", doubleSummary, Parents(sim), InheritObserved())
	assert.ErrorIs(t, err, ErrNoObserved)

	// A discrepancy requires every parent to be observed.
	_, err = sess.Discrepancy("d", absDist, Parents(sim))
	var obsErr *ObservedError
	require.ErrorAs(t, err, &obsErr)
	assert.Equal(t, "sim", obsErr.Parent)
}

func TestDiscrepancyUsesObserved(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(8))

	obs, err := tensor.New(1, 1, []float64{0.5})
	require.NoError(t, err)
	sim := sess.MustSimulator("sim", uniformSim, Observed(obs))
	d := sess.MustDiscrepancy("d", absDist, Parents(sim))

	dist, err := d.Acquire(ctx, 50)
	require.NoError(t, err)
	values, err := sim.Acquire(ctx, 50)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		assert.InDelta(t, math.Abs(values.At(i, 0)-0.5), dist.At(i, 0), 1e-12)
	}
}

func TestAcquireWithStore(t *testing.T) {
	ctx := context.Background()
	b := backend.NewLocal()
	sess := NewSession(b, WithSeed(12))
	t.Cleanup(func() { _ = sess.Close() })

	st := store.NewMemoryStore(b)
	sim := sess.MustSimulator("sim", uniformSim, WithStore(st))

	before, err := sim.Acquire(ctx, 5)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sim.cache.mu.Lock()
		defer sim.cache.mu.Unlock()
		return len(sim.cache.stored) > 0 && sim.cache.stored[0]
	}, 2*time.Second, time.Millisecond)

	after, err := sim.Acquire(ctx, 5)
	require.NoError(t, err)
	assert.True(t, tensor.Equal(before, after))
}

func TestRowWise(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession(t, WithSeed(13))

	perSample := RowWise(func(rng *rand.Rand, n int, args ...*tensor.Dense) (*tensor.Dense, error) {
		out := tensor.Zeros(1, 1)
		out.Set(0, 0, args[0].At(0, 0)+rng.Float64())
		return out, nil
	})
	prior := sess.MustSimulator("prior", uniformSim)
	sim := sess.MustSimulator("sim", perSample, Parents(prior))

	data, err := sim.Acquire(ctx, 7, BatchSize(3))
	require.NoError(t, err)
	assert.Equal(t, 7, data.Rows())

	priors, err := prior.Acquire(ctx, 7)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		diff := data.At(i, 0) - priors.At(i, 0)
		assert.GreaterOrEqual(t, diff, 0.0)
		assert.Less(t, diff, 1.0)
	}
}
