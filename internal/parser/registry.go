package parser

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps site names to descriptors.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]Descriptor
}

// NewRegistry returns a registry preloaded with the built-in descriptors.
func NewRegistry() *Registry {
	r := &Registry{sites: make(map[string]Descriptor)}
	for _, d := range Builtins() {
		r.sites[d.Name] = d
	}
	return r
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[desc.Name] = desc
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sites[name]
	return d, ok
}

// Parser builds the parser for a registered site.
func (r *Registry) Parser(name string, logger *zap.Logger) (*Site, error) {
	desc, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown site %q (known: %v)", name, r.Names())
	}
	return NewSite(desc, logger)
}

// Names lists registered sites in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sites))
	for name := range r.sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
