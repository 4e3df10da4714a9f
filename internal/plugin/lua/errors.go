package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when execution times out.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrModuleUnavailable is returned when require names a module that is
	// neither built in nor preloaded.
	ErrModuleUnavailable = errors.New("lua module not available")
)
