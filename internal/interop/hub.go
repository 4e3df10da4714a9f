package interop

import (
	"fmt"
	"sync"
)

// Hub bundles the four host subsystems and routes unregistration by kind.
type Hub struct {
	Commands      *Commands
	Listeners     *Listeners
	EasyListeners *EasyListeners
	Placeholders  *Placeholders

	mu        sync.RWMutex
	observers []func(Registration, error)
}

// NewHub creates empty subsystems. placeholders reports whether the
// placeholder subsystem is available on this host.
func NewHub(placeholders bool) *Hub {
	listeners := NewListeners()
	return &Hub{
		Commands:      NewCommands(),
		Listeners:     listeners,
		EasyListeners: NewEasyListeners(listeners),
		Placeholders:  NewPlaceholders(placeholders),
	}
}

// PlaceholdersEnabled reports whether the placeholder subsystem is available.
func (h *Hub) PlaceholdersEnabled() bool {
	return h.Placeholders.Enabled()
}

// OnUnregister adds an observer called after every Unregister with its result.
func (h *Hub) OnUnregister(fn func(Registration, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, fn)
}

// Unregister removes reg from the subsystem named by its kind.
func (h *Hub) Unregister(reg Registration) error {
	var err error
	switch reg.Kind {
	case KindCommand:
		err = h.Commands.Unregister(reg)
	case KindEasyListener:
		err = h.EasyListeners.Unregister(reg)
	case KindListener:
		err = h.Listeners.Unregister(reg)
	case KindPlaceholder:
		err = h.Placeholders.Unregister(reg)
	default:
		err = fmt.Errorf("%w: unknown kind %d", ErrInvalid, reg.Kind)
	}

	h.mu.RLock()
	observers := h.observers
	h.mu.RUnlock()
	for _, fn := range observers {
		fn(reg, err)
	}
	return err
}

// Sweep removes anything owner still holds in one subsystem and returns the
// number of entries removed.
func (h *Hub) Sweep(kind Kind, owner string) int {
	switch kind {
	case KindCommand:
		return h.Commands.UnregisterOwner(owner)
	case KindEasyListener:
		return h.EasyListeners.UnregisterOwner(owner)
	case KindListener:
		return h.Listeners.UnregisterOwner(owner)
	case KindPlaceholder:
		return h.Placeholders.UnregisterOwner(owner)
	}
	return 0
}

// Count returns the number of live entries of kind.
func (h *Hub) Count(kind Kind) int {
	switch kind {
	case KindCommand:
		return h.Commands.Len()
	case KindEasyListener:
		return h.EasyListeners.Len()
	case KindListener:
		return h.Listeners.Len()
	case KindPlaceholder:
		return h.Placeholders.Len()
	}
	return 0
}
