package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory constructs an adapter from its configuration. Factories are keyed
// by the `type` discriminator in the providers file.
type Factory func(name string, cfg Config, logger *slog.Logger) (Provider, error)

// Registry holds configured adapter instances and resolves a run's declared
// provider type to one of them.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry under the given name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

// Names returns all registered provider names, sorted for a stable API
// response.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a registry from configured instances, resolving each
// config's type through factories. Every instance is constructed and
// validated here, at startup, so a misconfigured provider fails boot rather
// than the first run that needs it.
func Build(cfgs map[string]Config, factories map[string]Factory, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	for name, cfg := range cfgs {
		factory, ok := factories[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("provider %q: unknown type %q", name, cfg.Type)
		}
		p, err := factory(name, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		reg.Register(name, p)
	}
	return reg, nil
}
