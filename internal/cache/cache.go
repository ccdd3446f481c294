package cache

import "sync/atomic"

// Snapshot is a lock-free, read-optimized container
// holding any immutable structure.
type Snapshot[T any] struct {
	v       atomic.Pointer[T]
	version atomic.Uint64
}

// Load returns the stored value and whether one has been stored yet.
func (s *Snapshot[T]) Load() (T, bool) {
	p := s.v.Load()
	if p == nil {
		var z T
		return z, false
	}
	return *p, true
}

// Store atomically swaps in the new value.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(&v)
	s.version.Add(1)
}

// Version counts the stores made so far.
func (s *Snapshot[T]) Version() uint64 { return s.version.Load() }
