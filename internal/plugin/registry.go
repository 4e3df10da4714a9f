package plugin

import (
	"maps"
	"slices"
	"sync"

	"github.com/dshills/scripthost/internal/interop"
)

// Registry tracks loaded extensions, the interop registrations each made and
// the custom context values each published. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	executors []Executor

	// registrations in record order, across every owner
	registrations []interop.Registration

	contexts map[string]map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[string]map[string]string)}
}

// Add appends an executor.
func (r *Registry) Add(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors = append(r.executors, exec)
}

// Executors returns the executors in insertion order.
func (r *Registry) Executors() []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.executors)
}

// Get returns the first executor with the given name.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, exec := range r.executors {
		if exec.Name() == name {
			return exec, true
		}
	}
	return nil, false
}

// Remove drops the first executor with the given name and returns it.
func (r *Registry) Remove(name string) (Executor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, exec := range r.executors {
		if exec.Name() == name {
			r.executors = slices.Delete(r.executors, i, i+1)
			return exec, true
		}
	}
	return nil, false
}

// Len returns the number of executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

// Record stores a registration made by owner.
func (r *Registry) Record(owner string, reg interop.Registration) {
	reg.Owner = owner
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, reg)
}

// RegistrationsFor returns owner's registrations in record order.
func (r *Registry) RegistrationsFor(owner string) []interop.Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []interop.Registration
	for _, reg := range r.registrations {
		if reg.Owner == owner {
			out = append(out, reg)
		}
	}
	return out
}

// Registrations returns every registration of kind in record order.
func (r *Registry) Registrations(kind interop.Kind) []interop.Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []interop.Registration
	for _, reg := range r.registrations {
		if reg.Kind == kind {
			out = append(out, reg)
		}
	}
	return out
}

// Owners returns every owner with recorded registrations or executors, in
// first-seen order.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, exec := range r.executors {
		add(exec.Name())
	}
	for _, reg := range r.registrations {
		add(reg.Owner)
	}
	return out
}

// Count returns the number of recorded registrations of kind.
func (r *Registry) Count(kind interop.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, reg := range r.registrations {
		if reg.Kind == kind {
			n++
		}
	}
	return n
}

// Clear forgets owner's registrations and context values.
func (r *Registry) Clear(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = slices.DeleteFunc(r.registrations, func(reg interop.Registration) bool {
		return reg.Owner == owner
	})
	delete(r.contexts, owner)
}

// ClearAll empties the registry.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors = nil
	r.registrations = nil
	r.contexts = make(map[string]map[string]string)
}

// SetContext stores a custom context value published by owner.
func (r *Registry) SetContext(owner, key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values, ok := r.contexts[owner]
	if !ok {
		values = make(map[string]string)
		r.contexts[owner] = values
	}
	values[key] = value
}

// Context returns a custom context value published by owner.
func (r *Registry) Context(owner, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.contexts[owner][key]
	return v, ok
}

// Contexts returns a copy of every value owner published.
func (r *Registry) Contexts(owner string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.contexts[owner])
}
