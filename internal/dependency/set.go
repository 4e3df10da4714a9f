package dependency

import (
	"sort"
	"sync"
)

// Set holds the outcome of the latest provisioning run.
type Set struct {
	mu       sync.RWMutex
	resolved map[string]Resolved
	failures map[string]error
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{
		resolved: make(map[string]Resolved),
		failures: make(map[string]error),
	}
}

// Add records a resolved dependency, clearing any earlier failure for it.
func (s *Set) Add(r Resolved) {
	key := r.Coordinates()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[key] = r
	delete(s.failures, key)
}

// Fail records why d could not be resolved.
func (s *Set) Fail(d Descriptor, err error) {
	key := d.Coordinates()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resolved, key)
	s.failures[key] = err
}

// Lookup returns the resolved dependency with the given coordinates.
func (s *Set) Lookup(coordinates string) (Resolved, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resolved[coordinates]
	return r, ok
}

// Resolved returns every resolved dependency sorted by coordinates.
func (s *Set) Resolved() []Resolved {
	s.mu.RLock()
	out := make([]Resolved, 0, len(s.resolved))
	for _, r := range s.resolved {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Coordinates() < out[j].Coordinates()
	})
	return out
}

// Failures returns a copy of the failure map keyed by coordinates.
func (s *Set) Failures() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]error, len(s.failures))
	for k, v := range s.failures {
		out[k] = v
	}
	return out
}

// Len returns the number of resolved dependencies.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resolved)
}

// Reset empties the set.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = make(map[string]Resolved)
	s.failures = make(map[string]error)
}
