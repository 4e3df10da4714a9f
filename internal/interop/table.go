package interop

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

type entry[T any] struct {
	reg   Registration
	value T
}

// table is an insertion-ordered, mutex-guarded set of registrations.
type table[T any] struct {
	mu    sync.RWMutex
	order []uuid.UUID
	items map[uuid.UUID]entry[T]
}

func newTable[T any]() *table[T] {
	return &table[T]{items: make(map[uuid.UUID]entry[T])}
}

func (t *table[T]) add(reg Registration, value T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[reg.ID] = entry[T]{reg: reg, value: value}
	t.order = append(t.order, reg.ID)
}

func (t *table[T]) get(id uuid.UUID) (entry[T], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.items[id]
	return e, ok
}

func (t *table[T]) remove(id uuid.UUID) (entry[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[id]
	if !ok {
		return e, false
	}
	delete(t.items, id)
	t.order = slices.DeleteFunc(t.order, func(o uuid.UUID) bool { return o == id })
	return e, true
}

func (t *table[T]) removeOwner(owner string) []entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []entry[T]
	t.order = slices.DeleteFunc(t.order, func(id uuid.UUID) bool {
		e := t.items[id]
		if e.reg.Owner != owner {
			return false
		}
		removed = append(removed, e)
		delete(t.items, id)
		return true
	})
	return removed
}

// snapshot returns the entries in registration order.
func (t *table[T]) snapshot() []entry[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]entry[T], 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.items[id])
	}
	return out
}

func (t *table[T]) registrations() []Registration {
	entries := t.snapshot()
	out := make([]Registration, len(entries))
	for i, e := range entries {
		out[i] = e.reg
	}
	return out
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
