// Package randdraw holds the constrained random-selection primitives used to
// build session plans. Every function takes an explicit *Source so a plan can
// be reproduced from its seed.
package randdraw

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// #region errors
var (
	// ErrEmptyPool is returned when a draw is attempted on an empty pool.
	ErrEmptyPool = errors.New("randdraw: empty pool")

	// ErrConstraintUnsatisfiable is returned when rejection sampling runs out of attempts.
	ErrConstraintUnsatisfiable = errors.New("randdraw: constraint unsatisfiable")
)

// #endregion errors

// #region source
// Source is a seedable uniform random source.
type Source struct {
	seed uint64
	rng  *rand.Rand
}

// New returns a Source seeded with seed. Equal seeds yield equal sequences.
func New(seed uint64) *Source {
	return &Source{
		seed: seed,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Seed reports the seed the source was created with.
func (s *Source) Seed() uint64 { return s.seed }

// Intn returns a uniform int in [0, n). n must be positive.
func (s *Source) Intn(n int) int { return s.rng.IntN(n) }

// IntRange returns a uniform int in [lo, hi], both inclusive.
func (s *Source) IntRange(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

// Shuffle permutes n elements in place using swap.
func (s *Source) Shuffle(n int, swap func(i, j int)) { s.rng.Shuffle(n, swap) }

// #endregion source

// #region draw
// Draw removes and returns one uniformly chosen element of *pool.
// The pool is mutated; callers refill it when it empties.
func Draw[T any](src *Source, pool *[]T) (T, error) {
	var zero T
	p := *pool
	if len(p) == 0 {
		return zero, ErrEmptyPool
	}
	i := src.Intn(len(p))
	v := p[i]
	p[i] = p[len(p)-1]
	*pool = p[:len(p)-1]
	return v, nil
}

// Choice returns one uniformly chosen element of pool without removing it.
func Choice[T any](src *Source, pool []T) (T, error) {
	var zero T
	if len(pool) == 0 {
		return zero, ErrEmptyPool
	}
	return pool[src.Intn(len(pool))], nil
}

// Shuffled returns a shuffled copy of items.
func Shuffled[T any](src *Source, items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	src.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// #endregion draw

// #region balanced
// BalancedLabels returns a shuffled sequence holding each label exactly
// multiplicity times.
func BalancedLabels[T any](src *Source, labels []T, multiplicity int) []T {
	if multiplicity < 1 {
		multiplicity = 1
	}
	out := make([]T, 0, len(labels)*multiplicity)
	for i := 0; i < multiplicity; i++ {
		out = append(out, labels...)
	}
	src.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// #endregion balanced

// #region rejection
// RejectionSample draws uniform candidates from pool until pred accepts one.
// It gives up with ErrConstraintUnsatisfiable after maxAttempts draws.
func RejectionSample[T any](src *Source, pool []T, pred func(T) bool, maxAttempts int) (T, error) {
	var zero T
	if len(pool) == 0 {
		return zero, ErrEmptyPool
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		c := pool[src.Intn(len(pool))]
		if pred(c) {
			return c, nil
		}
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrConstraintUnsatisfiable, maxAttempts)
}

// #endregion rejection
