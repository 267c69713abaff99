package utils

import (
	"math/rand"
	"time"
)

// RandSource is a seeded random number generator. It is not safe for
// concurrent use; give each goroutine its own source.
type RandSource struct {
	seed int64
	rng  *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed draws one from the wall clock.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Seed returns the seed the source was created with
func (r *RandSource) Seed() int64 {
	return r.seed
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	return r.rng.Float64()
}

// NormFloat64 returns a normally distributed random number with mean and stddev
func (r *RandSource) NormFloat64(mean, stddev float64) float64 {
	return r.rng.NormFloat64()*stddev + mean
}

// StandardNormal returns a draw from N(0, 1)
func (r *RandSource) StandardNormal() float64 {
	return r.rng.NormFloat64()
}

// FillStandardNormal overwrites dst with independent N(0, 1) draws, in order.
func (r *RandSource) FillStandardNormal(dst []float64) {
	for i := range dst {
		dst[i] = r.rng.NormFloat64()
	}
}

// Child derives an independent source whose seed is drawn from r.
func (r *RandSource) Child() *RandSource {
	seed := r.rng.Int63()
	if seed == 0 {
		seed = 1
	}
	return NewRandSource(seed)
}

