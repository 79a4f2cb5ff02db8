package db

import "math/rand/v2"

// Source yields uniformly distributed ints in [0, n).
// *rand.Rand from math/rand/v2 satisfies it; a Source shared between
// goroutines must be safe for concurrent use.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// DefaultSource draws from the process-wide math/rand/v2 generator.
func DefaultSource() Source { return globalSource{} }

// ReadSelector picks one replica per read. Every call is an independent
// draw; nothing is remembered between calls.
type ReadSelector struct {
	n   int
	src Source
}

func NewReadSelector(replicas int, src Source) *ReadSelector {
	if src == nil {
		src = DefaultSource()
	}
	return &ReadSelector{n: replicas, src: src}
}

// Select returns the index of the chosen replica, or -1 when there are none.
func (s *ReadSelector) Select() int {
	if s == nil || s.n <= 0 {
		return -1
	}
	if s.n == 1 {
		return 0
	}
	return s.src.IntN(s.n)
}
