package interop

import (
	"context"
	"fmt"
)

// EasyFunc is a simplified listener: no context and no error.
type EasyFunc func(ev Event)

// EasyListeners adapts EasyFunc handlers onto a Listeners registry. Each easy
// registration owns exactly one underlying plain listener.
type EasyListeners struct {
	listeners *Listeners
	entries   *table[Registration]
}

// NewEasyListeners creates an adapter registry over listeners.
func NewEasyListeners(listeners *Listeners) *EasyListeners {
	return &EasyListeners{
		listeners: listeners,
		entries:   newTable[Registration](),
	}
}

// Register subscribes fn to topic through a new underlying listener.
func (e *EasyListeners) Register(owner, topic string, fn EasyFunc) (Registration, error) {
	if fn == nil {
		return Registration{}, fmt.Errorf("%w: easy listener for %q has no handler", ErrInvalid, topic)
	}
	underlying, err := e.listeners.Register(owner, topic, func(_ context.Context, ev Event) error {
		fn(ev)
		return nil
	})
	if err != nil {
		return Registration{}, err
	}

	reg := newRegistration(KindEasyListener, owner, underlying.Name)
	e.entries.add(reg, underlying)
	return reg, nil
}

// Unregister removes an adapter and its underlying listener. If the underlying
// listener was already removed the adapter is dropped and ErrStaleAdapter is
// returned.
func (e *EasyListeners) Unregister(reg Registration) error {
	ent, ok := e.entries.remove(reg.ID)
	if !ok {
		return fmt.Errorf("easy listener %q: %w", reg.Name, ErrNotFound)
	}
	if err := e.listeners.Unregister(ent.value); err != nil {
		return fmt.Errorf("easy listener %s: %w", reg, ErrStaleAdapter)
	}
	return nil
}

// UnregisterOwner drops every adapter owned by owner along with its listener.
func (e *EasyListeners) UnregisterOwner(owner string) int {
	removed := e.entries.removeOwner(owner)
	for _, ent := range removed {
		_ = e.listeners.Unregister(ent.value)
	}
	return len(removed)
}

// Underlying returns the plain listener backing an adapter.
func (e *EasyListeners) Underlying(reg Registration) (Registration, bool) {
	ent, ok := e.entries.get(reg.ID)
	return ent.value, ok
}

// Active returns the live adapter registrations in registration order.
func (e *EasyListeners) Active() []Registration {
	return e.entries.registrations()
}

// Len returns the number of adapters.
func (e *EasyListeners) Len() int {
	return e.entries.len()
}
