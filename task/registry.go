package task

import (
	"fmt"
	"sync"

	"github.com/xraph/taskbus"
)

// Registry maps task names to definitions.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]Definition),
	}
}

// Register associates def with its name. It fails with
// taskbus.ErrDuplicateTaskName if the name is taken.
func (r *Registry) Register(def Definition) error {
	if def == nil || def.Name() == "" {
		return fmt.Errorf("register task: %w: empty name", taskbus.ErrRouting)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name()]; exists {
		return fmt.Errorf("register task %q: %w", def.Name(), taskbus.ErrDuplicateTaskName)
	}
	r.defs[def.Name()] = def
	return nil
}

// Get returns the definition registered under name.
// Returns false if no definition is registered.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Resolve returns the registered definition for name, or the Unknown
// placeholder when the name is not registered here. An empty name cannot
// be routed.
func (r *Registry) Resolve(name string) (Definition, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve task: %w: empty name", taskbus.ErrRouting)
	}
	if d, ok := r.Get(name); ok {
		return d, nil
	}
	return NewUnknown(name), nil
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
