// Package interop holds the host subsystems extensions register into:
// commands, listeners, easy-listeners and placeholders.
//
// Every registration is identified by a Registration value. Only the lifecycle
// coordinator removes registrations, and it does so in the order returned by
// TeardownPlan. Easy-listeners are adapters over plain listeners, so they must
// be removed first; removing the plain listener layer first leaves the adapter
// pointing at a dead registration and its unregister fails with ErrStaleAdapter.
package interop

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind names a host subsystem.
type Kind uint8

const (
	// KindCommand is a named console command.
	KindCommand Kind = iota
	// KindEasyListener is a simplified listener layered on KindListener.
	KindEasyListener
	// KindListener is a topic event listener.
	KindListener
	// KindPlaceholder is a %identifier_param% text expansion.
	KindPlaceholder
)

// String returns the subsystem name.
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "COMMAND"
	case KindEasyListener:
		return "EASY_LISTENER"
	case KindListener:
		return "LISTENER"
	case KindPlaceholder:
		return "PLACEHOLDER"
	default:
		return "UNKNOWN"
	}
}

// TeardownPlan returns the fixed unregister order. PLACEHOLDER is present only
// when the placeholder subsystem is enabled.
func TeardownPlan(placeholdersEnabled bool) []Kind {
	if placeholdersEnabled {
		return []Kind{KindCommand, KindPlaceholder, KindEasyListener, KindListener}
	}
	return []Kind{KindCommand, KindEasyListener, KindListener}
}

// Errors returned by the registries.
var (
	ErrNotFound     = errors.New("registration not found")
	ErrDuplicate    = errors.New("already registered")
	ErrStaleAdapter = errors.New("easy-listener adapter references a removed listener")
	ErrDisabled     = errors.New("placeholder subsystem disabled")
	ErrInvalid      = errors.New("invalid registration")
)

// Registration is the handle of one entry in a host subsystem.
type Registration struct {
	ID    uuid.UUID
	Kind  Kind
	Owner string
	Name  string
}

func newRegistration(kind Kind, owner, name string) Registration {
	return Registration{ID: uuid.New(), Kind: kind, Owner: owner, Name: name}
}

// String returns "KIND owner/name".
func (r Registration) String() string {
	return fmt.Sprintf("%s %s/%s", r.Kind, r.Owner, r.Name)
}
