// Package joblock provides per-job mutual exclusion for operations that
// read-then-write job-level aggregates.
package joblock

import "sync"

// Registry hands out one mutex per job key. Mutexes are created on first
// use and kept for the registry's lifetime; job cardinality is bounded by
// the active job set, so no eviction is needed.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	defer locks.Lock(job)()
func (r *Registry) Lock(key string) func() {
	r.mu.Lock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
