package reconciler

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotFound indicates an unknown provider instance id.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderUnreachable indicates the refresh gate failed; the cycle
	// aborted without mutating any state.
	ErrProviderUnreachable = errors.New("provider unreachable")

	// ErrInvalidDesiredState indicates the desired set contained duplicate
	// (type, name) keys and cannot be planned.
	ErrInvalidDesiredState = errors.New("invalid desired state")
)

// CycleError wraps a fatal error from one reconciliation cycle with the
// provider it belongs to.
type CycleError struct {
	ProviderID string
	Err        error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.ProviderID, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
