package provider

import (
	"errors"
	"fmt"
	"time"

	"gitlab.bluewillows.net/root/trafego/pkg/record"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the record id does not exist at the provider.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a record with the same (type, name, content)
	// already exists.
	ErrConflict = errors.New("record already exists")

	// ErrUnauthorized indicates authentication or authorization failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrZoneNotFound indicates the configured zone does not exist at the
	// provider.
	ErrZoneNotFound = errors.New("zone not found")

	// ErrUnreachable indicates the provider API could not be reached or
	// returned a server error.
	ErrUnreachable = errors.New("provider unreachable")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError carries the provider's Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// OpError wraps an error with provider and operation context.
type OpError struct {
	Provider  string
	Operation string
	Err       error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context. Nil passes through.
func WrapError(provider, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Provider: provider, Operation: operation, Err: err}
}

// IsNotFound returns true if the error indicates an unknown record id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a pre-existing record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthorized returns true if the error indicates failed authentication.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsUnreachable returns true if the error indicates the provider API is
// unavailable.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsRateLimited returns true if the error indicates throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// ErrorClass groups provider errors by how the engine recovers from them.
type ErrorClass int

const (
	// ClassUnknown covers errors outside the taxonomy. Not retried.
	ClassUnknown ErrorClass = iota

	// ClassTransient errors (rate limits, 5xx, network) are retried with
	// exponential backoff.
	ClassTransient

	// ClassPermanent errors (validation, auth, other 4xx) surface to the
	// reconciler without retry.
	ClassPermanent

	// ClassConflict marks a pre-existing record; the reconciler re-scans
	// the cache and may claim it.
	ClassConflict
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Classify maps an error to its recovery class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrConflict):
		return ClassConflict
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUnreachable):
		return ClassTransient
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrZoneNotFound),
		errors.Is(err, record.ErrInvalidRecord):
		return ClassPermanent
	default:
		return ClassUnknown
	}
}
