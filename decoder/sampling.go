package decoder

import (
	"math/rand"
	"sort"
)

// topK zeroes every probability mass outside the top k entries, renormalizing
// the survivors. k<=0 or k>=len(probs) is a no-op.
func topK(probs []float64, k int) []float64 {
	if k <= 0 || k >= len(probs) {
		return probs
	}
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	out := make([]float64, len(probs))
	var sum float64
	for _, i := range idx[:k] {
		out[i] = probs[i]
		sum += probs[i]
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// topP (nucleus sampling) keeps the smallest prefix of probability mass, in
// descending order, whose cumulative sum reaches p. p<=0 is a no-op.
func topP(probs []float64, p float32) []float64 {
	if p <= 0 || p >= 1 {
		return probs
	}
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	out := make([]float64, len(probs))
	var cum, sum float64
	for _, i := range idx {
		// Compare at p's own float32 precision: widening p to float64 would
		// make a prefix summing to exactly p (0.5+0.3 for p=0.8) fall short.
		if float32(cum) >= p {
			break
		}
		out[i] = probs[i]
		cum += probs[i]
		sum += probs[i]
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

// sampleFromDist draws a categorical sample from a (possibly sparse)
// probability vector.
func sampleFromDist(probs []float64) int {
	r := rand.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	// Floating point slop: fall back to the last nonzero entry.
	for i := len(probs) - 1; i >= 0; i-- {
		if probs[i] > 0 {
			return i
		}
	}
	return 0
}
