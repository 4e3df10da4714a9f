package plugin

// State represents the lifecycle state of the coordinator.
type State int

// Coordinator states.
const (
	// StateUnloaded - No extensions are loaded.
	StateUnloaded State = iota

	// StateDiscovering - Extension units are being read and loaded.
	StateDiscovering

	// StateLoaded - Registration finished; extensions are live.
	StateLoaded

	// StateUnloading - Hooks are running and registrations are being torn down.
	StateUnloading

	// StateReloading - onReload hooks are running before unload and register.
	StateReloading
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateDiscovering:
		return "discovering"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	case StateReloading:
		return "reloading"
	default:
		return "unknown"
	}
}

// IsTransient returns true while an operation is in progress.
func (s State) IsTransient() bool {
	return s == StateDiscovering || s == StateUnloading || s == StateReloading
}
