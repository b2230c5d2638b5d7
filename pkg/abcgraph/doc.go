// Package abcgraph implements a lazy computation graph for
// likelihood-free Bayesian inference. Models are directed acyclic graphs
// of operations: stochastic simulators at the roots, deterministic
// summaries and discrepancies below them. Samples are produced in
// content-addressed chunks, computed exactly once per (node, index
// range) and reused across inference calls with different thresholds or
// quantiles.
//
// A Session owns the random substream allocation and the compute
// backend. Nodes are built through the session's constructors and read
// through Acquire (blocking, materialized), Generate (lazy handle over
// newly produced samples), and GetSlice (range reads decoupled from the
// generation counter).
//
//	b := backend.NewLocal()
//	sess := abcgraph.NewSession(b, abcgraph.WithSeed(42))
//	mu := sess.MustSimulator("mu", priorFn)
//	sim := sess.MustSimulator("sim", simFn,
//		abcgraph.Parents(mu), abcgraph.Observed(obs))
//	d := sess.MustDiscrepancy("d", dist, abcgraph.Parents(sim))
//	data, err := d.Acquire(ctx, 1000, abcgraph.BatchSize(100))
package abcgraph
