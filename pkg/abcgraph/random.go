package abcgraph

import "math/rand/v2"

// substreamRand derives the reproducible random source for one chunk.
// The session seed and the substream index form the PCG seed pair, so
// every (seed, stream) combination yields an independent stream.
func substreamRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}
