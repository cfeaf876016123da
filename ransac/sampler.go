package ransac

import (
	"math/rand"
	"time"
)

// Sampler draws minimal samples of distinct indices.
type Sampler struct {
	rng     *rand.Rand
	indices []int
}

// NewSampler returns a sampler over numSamples indices. A negative seed draws one from the clock.
func NewSampler(numSamples int, seed int64) *Sampler {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}
	//nolint:gosec
	return &Sampler{rng: rand.New(rand.NewSource(seed)), indices: indices}
}

// Sample writes sampleSize distinct indices into dst using a partial Fisher-Yates shuffle.
func (s *Sampler) Sample(dst []int) {
	n := len(s.indices)
	for i := range dst {
		j := i + s.rng.Intn(n-i)
		s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
		dst[i] = s.indices[i]
	}
}
