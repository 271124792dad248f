// Package syncx holds the per-document critical sections used by the
// collaboration core. Documents hash onto a fixed pool of mutexes so work on
// one document is serialised while unrelated documents rarely contend.
package syncx

import "sync"

// DefaultStripes is the pool size used when callers pass n <= 0.
const DefaultStripes = 256

// StripeIndex maps a document id onto one of n stripes. n must be a power of two.
func StripeIndex(id int64, n int) int {
	// fibonacci hashing spreads sequential ids across stripes
	h := uint64(id) * 0x9E3779B97F4A7C15
	return int(h>>32) & (n - 1)
}

// RoundStripes returns n rounded up to the next power of two.
func RoundStripes(n int) int {
	if n <= 0 {
		n = DefaultStripes
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Striped is a fixed pool of mutexes keyed by document id.
type Striped struct {
	stripes []sync.Mutex
}

func NewStriped(n int) *Striped {
	return &Striped{stripes: make([]sync.Mutex, RoundStripes(n))}
}

// For returns the mutex guarding id.
func (s *Striped) For(id int64) *sync.Mutex {
	return &s.stripes[StripeIndex(id, len(s.stripes))]
}

// Do runs fn while holding the critical section for id.
func (s *Striped) Do(id int64, fn func() error) error {
	m := s.For(id)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Len reports the number of stripes.
func (s *Striped) Len() int { return len(s.stripes) }
