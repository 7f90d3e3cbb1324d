package postrelay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRegistry is an in-process [Registry]. Last-checked times are kept
// for the life of the process only.
type MemoryRegistry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewMemoryRegistry creates a registry holding sources in the given order.
//
// Returns an error if two sources share a name.
func NewMemoryRegistry(sources ...Source) (*MemoryRegistry, error) {
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if seen[src.Name] {
			return nil, fmt.Errorf("duplicate source name: %q", src.Name)
		}
		seen[src.Name] = true
	}
	return &MemoryRegistry{sources: append([]Source(nil), sources...)}, nil
}

// List returns a snapshot of all sources.
func (r *MemoryRegistry) List(_ context.Context) ([]Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Source(nil), r.sources...), nil
}

// SetLastChecked records t for name. Older timestamps are ignored.
func (r *MemoryRegistry) SetLastChecked(_ context.Context, name string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sources {
		if r.sources[i].Name != name {
			continue
		}
		if t.After(r.sources[i].LastChecked) {
			r.sources[i].LastChecked = t
		}
		return nil
	}
	return fmt.Errorf("unknown source %q", name)
}

// Get returns the source called name.
func (r *MemoryRegistry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, src := range r.sources {
		if src.Name == name {
			return src, true
		}
	}
	return Source{}, false
}
