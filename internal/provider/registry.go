package provider

import (
	"strings"
	"sync"
)

// Registry manages provider adapters. It is built once at startup and
// read-only during request handling; the mutex only guards construction.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under its lower-cased name. Re-registering a
// name replaces the previous adapter without changing its position in the
// model-resolution order.
func (r *Registry) Register(p Provider) {
	name := strings.ToLower(p.Name())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}

	r.providers[name] = p
}

// Get retrieves a provider by name, case-insensitively.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[strings.ToLower(name)]

	return p, ok
}

// ResolveByModel scans adapters in registration order and returns the
// first whose SupportsModel accepts the id. Registration order is the
// tie-break for overlapping predicates.
func (r *Registry) ResolveByModel(model string) (Provider, bool) {
	if model == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if p := r.providers[name]; p.SupportsModel(model) {
			return p, true
		}
	}

	return nil, false
}

// List returns registered provider names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)

	return names
}
