// Package methods implements likelihood-free inference algorithms over
// the computation graph: rejection sampling and sequential Monte Carlo.
// The algorithms only consume the engine's narrow contract (Acquire,
// Reset, ReplaceBy); their statistical content lives here.
package methods
