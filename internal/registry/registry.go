// Package registry hands out one mutex per canonicalized workspace root, so
// a single process can host more than one coordinator without their
// critical sections interleaving.
package registry

import (
	"sync"

	"github.com/anthropics/filecoord/internal/pathkey"
)

// Registry hands out a *sync.Mutex per normalized workspace root.
type Registry struct {
	mu         sync.Mutex
	workspaces map[string]*sync.Mutex
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{workspaces: make(map[string]*sync.Mutex)}
}

// MutexFor returns the mutex for root, creating it on first use. The same
// root (after normalization) always returns the same mutex instance.
func (r *Registry) MutexFor(root string) *sync.Mutex {
	key := pathkey.Normalize(root)

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.workspaces[key]
	if !ok {
		m = &sync.Mutex{}
		r.workspaces[key] = m
	}
	return m
}
