package plugin

import (
	"errors"
	"fmt"
)

// Extension host errors.
var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// coordinator's current state.
	ErrInvalidState = errors.New("invalid coordinator state")

	// ErrNotActive is returned when an extension registers into the host
	// outside its active lifetime.
	ErrNotActive = errors.New("extension is not active")

	// ErrHookPanic is returned when a lifecycle hook panics.
	ErrHookPanic = errors.New("hook panicked")

	// ErrNoFactory is returned when the coordinator has no executor factory.
	ErrNoFactory = errors.New("no executor factory")
)

// LoadError records why one extension could not be loaded.
type LoadError struct {
	Extension string
	Phase     string
	Err       error
}

// Load phases.
const (
	PhaseCreate = "create"
	PhaseLoad   = HookLoad
)

func (e *LoadError) Error() string {
	return fmt.Sprintf("extension %q: %s: %v", e.Extension, e.Phase, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Err
}
