package rails

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/claims-pipeline/core"
)

// Registry maps rail identifiers to their adapters. It is the queue's
// RailResolver.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.RailAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]core.RailAdapter{}}
}

func (r *Registry) Register(adapter core.RailAdapter) error {
	if r == nil {
		return fmt.Errorf("rails: registry is nil")
	}
	if adapter == nil {
		return fmt.Errorf("rails: adapter is nil")
	}
	railID := normalizeRailID(adapter.RailID())
	if railID == "" {
		return fmt.Errorf("rails: adapter rail id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[railID]; exists {
		return fmt.Errorf("rails: rail %q already registered", railID)
	}
	r.adapters[railID] = adapter
	return nil
}

func (r *Registry) Resolve(railID string) (core.RailAdapter, error) {
	if r == nil {
		return nil, fmt.Errorf("rails: registry is nil")
	}
	railID = normalizeRailID(railID)
	if railID == "" {
		return nil, fmt.Errorf("rails: rail id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[railID]
	if !ok {
		return nil, fmt.Errorf("rails: rail %q is not registered", railID)
	}
	return adapter, nil
}

func (r *Registry) Rails() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for railID := range r.adapters {
		ids = append(ids, railID)
	}
	sort.Strings(ids)
	return ids
}

func normalizeRailID(railID string) string {
	return strings.TrimSpace(strings.ToLower(railID))
}

var _ core.RailResolver = (*Registry)(nil)
