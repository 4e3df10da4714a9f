package interop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Event is a topic message delivered to listeners.
type Event struct {
	Topic string
	Data  map[string]string
}

// Get returns a data value or "".
func (e Event) Get(key string) string {
	return e.Data[key]
}

// ListenerFunc handles an event.
type ListenerFunc func(ctx context.Context, ev Event) error

// Listeners is the host event listener registry.
type Listeners struct {
	entries *table[ListenerFunc]
}

// NewListeners creates an empty listener registry.
func NewListeners() *Listeners {
	return &Listeners{entries: newTable[ListenerFunc]()}
}

// Register subscribes fn to topic on behalf of owner.
func (l *Listeners) Register(owner, topic string, fn ListenerFunc) (Registration, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Registration{}, fmt.Errorf("%w: empty listener topic", ErrInvalid)
	}
	if fn == nil {
		return Registration{}, fmt.Errorf("%w: listener for %q has no handler", ErrInvalid, topic)
	}
	reg := newRegistration(KindListener, owner, topic)
	l.entries.add(reg, fn)
	return reg, nil
}

// Unregister removes a listener.
func (l *Listeners) Unregister(reg Registration) error {
	if _, ok := l.entries.remove(reg.ID); !ok {
		return fmt.Errorf("listener %q: %w", reg.Name, ErrNotFound)
	}
	return nil
}

// UnregisterOwner removes every listener owned by owner, including listeners
// backing that owner's easy-listener adapters.
func (l *Listeners) UnregisterOwner(owner string) int {
	return len(l.entries.removeOwner(owner))
}

// Has reports whether the listener with the given id is registered.
func (l *Listeners) Has(id uuid.UUID) bool {
	_, ok := l.entries.get(id)
	return ok
}

// Emit delivers ev to every listener of ev.Topic in registration order.
// Listener errors and panics are collected; delivery always reaches every
// listener.
func (l *Listeners) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, e := range l.entries.snapshot() {
		if e.reg.Name != ev.Topic {
			continue
		}
		if err := deliver(ctx, e, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, e entry[ListenerFunc], ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %s panicked: %v", e.reg, r)
		}
	}()
	if err := e.value(ctx, ev); err != nil {
		return fmt.Errorf("listener %s: %w", e.reg, err)
	}
	return nil
}

// Active returns the live registrations in registration order.
func (l *Listeners) Active() []Registration {
	return l.entries.registrations()
}

// Len returns the number of registered listeners.
func (l *Listeners) Len() int {
	return l.entries.len()
}
