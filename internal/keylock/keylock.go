// Package keylock provides per-key mutual exclusion so operations on one
// asset are serialized while operations on different assets proceed
// independently.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Ring hands out one mutex per key. Lock entries are reference-counted and
// removed once the last holder releases them, so the map does not grow with
// the number of keys ever seen.
type Ring struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewRing creates an empty lock ring.
func NewRing() *Ring {
	return &Ring{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the function that releases it.
func (r *Ring) Lock(key string) func() {
	r.mu.Lock()
	e, ok := r.locks[key]
	if !ok {
		e = &entry{}
		r.locks[key] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		r.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}
