// Package keymutex provides per-key mutual exclusion. The event
// dispatcher uses it to serialize processing per student while events
// for different students run concurrently.
// No external dependencies - uses only standard library.
package keymutex

import "sync"

// KeyMutex is a set of mutexes addressed by string key. Entries are
// reference-counted and removed once the last holder unlocks, so the
// map does not grow with the number of distinct keys ever seen.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for the given key, blocking until it is free.
func (km *KeyMutex) Lock(key string) {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &entry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for the given key. Unlocking a key that is
// not held panics, same as sync.Mutex.
func (km *KeyMutex) Unlock(key string) {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		panic("keymutex: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	e.mu.Unlock()
}

// Len returns the number of keys currently held or waited on.
func (km *KeyMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}
