package api

import (
	"fmt"
	"sort"
	"sync"
)

// Registry resolves model adapters by provider and model name.
// Multiple models may be registered per provider.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]map[string]Invoker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]map[string]Invoker),
	}
}

// Register associates an adapter with a provider/model pair, replacing any
// previous registration.
func (r *Registry) Register(provider, model string, adapter Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.adapters[provider] == nil {
		r.adapters[provider] = make(map[string]Invoker)
	}
	r.adapters[provider][model] = adapter
}

// Resolve returns the adapter for a provider/model pair.
// An unknown pair yields ErrAdapterNotFound, not a crash.
func (r *Registry) Resolve(provider, model string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[provider][model]
	if !ok {
		return nil, fmt.Errorf("%w for %s/%s", ErrAdapterNotFound, provider, model)
	}
	return adapter, nil
}

// Providers returns all registered provider IDs, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// Models returns all model names registered for a provider, sorted.
func (r *Registry) Models(provider string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters[provider]))
	for m := range r.adapters[provider] {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}
