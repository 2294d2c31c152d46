// Package locks provides a ref-counted keyed mutex: an exclusive lock per
// string key that exists only while someone holds or waits for it.
//
// The engine uses one Keyed instance per lock scope — per-queue around the
// poll critical section, and (inside the tracker) per-message around the
// delete-vs-expiry race.
package locks

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a set of named mutexes. The zero value is not usable; call New.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Keyed lock set.
func New() *Keyed {
	return &Keyed{entries: make(map[string]*entry)}
}

// Lock acquires the exclusive lock for key, blocking until it is free, and
// returns the corresponding unlock function. The unlock function must be
// called exactly once.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
