package dependency

import (
	"errors"
	"fmt"
)

// Failure classes. Use errors.Is against a *FetchError.
var (
	ErrTransport = errors.New("transport failure")
	ErrStatus    = errors.New("unexpected response status")
	ErrTimeout   = errors.New("fetch timed out")
	ErrStorage   = errors.New("artifact storage failure")
	ErrIntegrity = errors.New("checksum mismatch")
)

// FailureKind classifies a FetchError.
type FailureKind int

const (
	// KindTransport is a network or request failure.
	KindTransport FailureKind = iota
	// KindStatus is a non-2xx response.
	KindStatus
	// KindTimeout is a fetch that exceeded its deadline.
	KindTimeout
	// KindStorage is a local file system failure.
	KindStorage
	// KindIntegrity is a digest mismatch. The artifact was quarantined.
	KindIntegrity
)

// String returns the kind name.
func (k FailureKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindTimeout:
		return "timeout"
	case KindStorage:
		return "storage"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case KindStatus:
		return ErrStatus
	case KindTimeout:
		return ErrTimeout
	case KindStorage:
		return ErrStorage
	case KindIntegrity:
		return ErrIntegrity
	default:
		return ErrTransport
	}
}

// FetchError reports why one descriptor could not be resolved.
type FetchError struct {
	Descriptor Descriptor
	Kind       FailureKind
	URL        string
	StatusCode int

	// Integrity failures only.
	Expected   string
	Actual     string
	Quarantine string

	Err error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindIntegrity:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Descriptor, e.Kind, e.Err)
		}
		if e.Quarantine == "" {
			return fmt.Sprintf("%s: sha512 mismatch: expected %s, actual %s", e.Descriptor, e.Expected, e.Actual)
		}
		return fmt.Sprintf("%s: sha512 mismatch: expected %s, actual %s (quarantined at %s)",
			e.Descriptor, e.Expected, e.Actual, e.Quarantine)
	case KindStatus:
		return fmt.Sprintf("%s: GET %s: status %d", e.Descriptor, e.URL, e.StatusCode)
	}
	if e.URL != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Descriptor, e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Descriptor, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the failure kind.
func (e *FetchError) Is(target error) bool {
	return target == e.Kind.sentinel()
}
