package channel

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps channel types to their adapters. Registration happens once
// at startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Type]Adapter)}
}

// Register adds an adapter. Registering the same type twice is a
// programming error.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[adapter.Type()]; exists {
		return fmt.Errorf("adapter already registered: %s", adapter.Type())
	}
	r.adapters[adapter.Type()] = adapter
	return nil
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(t Type) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("unknown channel type: %s", t)
	}
	return adapter, nil
}

// Types lists the registered channel types in stable order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
