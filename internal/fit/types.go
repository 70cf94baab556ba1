package fit

import (
	"math"
	"math/rand"
)

// GuessParam draws a new value for one coordinate: uniform in [lo, hi] when
// random, otherwise x·(1-step+2·step·u). The result is clamped to [lo, hi].
func GuessParam(rng *rand.Rand, x, step, lo, hi float64, random bool) float64 {
	r := rng.Float64()
	if random {
		x = lo + (hi-lo)*r
	} else {
		x = x * (1 - step + 2*step*r)
	}
	return clamp(x, lo, hi)
}

// GuessAll fills dst with GuessParam applied to every coordinate of centre
func GuessAll(rng *rand.Rand, dst, centre, lower, upper []float64, step float64, random bool) {
	for i := range dst {
		dst[i] = GuessParam(rng, centre[i], step, lower[i], upper[i], random)
	}
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
