package sim

import (
	"hash/fnv"
	"math/rand"
)

// === SeedStream ===

// SeedStream produces the per-task seeds of an orchestrator.
//
// The stream is a math/rand generator seeded with the orchestrator's own
// seed, so a given master seed always yields the same task seeds in the same
// order. Skip discards seeds up front, which lets an interrupted run resume
// with the seeds it would have used next.
//
// Thread-safety: NOT thread-safe. Owned by the orchestrator's control goroutine.
type SeedStream struct {
	master int64
	rng    *rand.Rand
	drawn  int
}

// NewSeedStream creates a stream for master and discards the first skip seeds.
func NewSeedStream(master int64, skip int) *SeedStream {
	s := &SeedStream{
		master: master,
		rng:    rand.New(rand.NewSource(master)),
	}
	s.Skip(skip)
	return s
}

// Next returns the next task seed.
func (s *SeedStream) Next() int64 {
	s.drawn++
	return s.rng.Int63()
}

// Skip discards n seeds.
func (s *SeedStream) Skip(n int) {
	for i := 0; i < n; i++ {
		s.Next()
	}
}

// Drawn returns how many seeds were taken from the stream, skipped ones included.
func (s *SeedStream) Drawn() int { return s.drawn }

// Master returns the seed the stream was created from.
func (s *SeedStream) Master() int64 { return s.master }

// === Named derivation ===

// DeriveSeed returns master XOR fnv1a64(name): an isolated, deterministic
// seed for a named sub-stream (e.g. the arrival and service streams of a model).
func DeriveSeed(master int64, name string) int64 {
	return master ^ fnv1a64(name)
}

// NewRand returns a *rand.Rand for the named sub-stream of master.
func NewRand(master int64, name string) *rand.Rand {
	return rand.New(rand.NewSource(DeriveSeed(master, name)))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
