package timeline

import "math/rand"

// MaxVariation bounds how much one scene's length may differ from the
// previous one in a Varied timeline.
const MaxVariation = 0.15

// Varied splits d across n scenes with slightly uneven lengths so that cuts
// do not land on a fixed rhythm. The first scene deviates from the even
// length by at most MaxVariation, and every following scene from its
// predecessor by at most MaxVariation.
func Varied(d float64, n int, r *rand.Rand) (Timeline, error) {
	if n < 1 {
		return Timeline{}, ErrNoScenes
	}
	if r == nil {
		r = rand.New(rand.NewSource(1))
	}

	weights := make([]float64, n)
	weights[0] = 1 + variation(r)
	for i := 1; i < n; i++ {
		weights[i] = weights[i-1] * (1 + variation(r))
	}
	return Weighted(d, weights)
}

// variation returns a value in [-MaxVariation, MaxVariation).
func variation(r *rand.Rand) float64 {
	return r.Float64()*2*MaxVariation - MaxVariation
}
