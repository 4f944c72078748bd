package db

import (
	"context"
	"sync"
)

// Registry maps a task nonce to the project created for it, so that round 2
// can tell an update of a known project from a fallback create.
type Registry interface {
	Lookup(ctx context.Context, nonce string) (string, bool, error)
	Record(ctx context.Context, nonce, projectName string) error
}

// MemoryRegistry keeps the mapping for the lifetime of the process only.
// Entries are never evicted and are lost on restart; round 2 then falls back
// to create-or-get under the same deterministic project name.
type MemoryRegistry struct {
	mu       sync.RWMutex
	projects map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{projects: make(map[string]string)}
}

func (r *MemoryRegistry) Lookup(_ context.Context, nonce string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.projects[nonce]
	return name, ok, nil
}

func (r *MemoryRegistry) Record(_ context.Context, nonce, projectName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[nonce] = projectName
	return nil
}
