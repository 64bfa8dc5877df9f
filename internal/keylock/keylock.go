// Package keylock provides striped mutexes keyed by string.
package keylock

import (
	"hash/maphash"
	"sync"
)

const defaultStripes = 256

// Striped maps keys onto a fixed set of mutexes. Two keys may share a stripe,
// which only costs throughput, never correctness.
type Striped struct {
	seed  maphash.Seed
	locks []sync.Mutex
}

// New returns a Striped with n stripes; n <= 0 selects the default.
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{seed: maphash.MakeSeed(), locks: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) (unlock func()) {
	m := &s.locks[maphash.String(s.seed, key)%uint64(len(s.locks))]
	m.Lock()
	return m.Unlock
}
