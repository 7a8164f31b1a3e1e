package record

import (
	"errors"
	"fmt"
)

// ErrInvalidRecord is the sentinel all canonicalization failures unwrap to.
var ErrInvalidRecord = errors.New("invalid record")

// InvalidRecordError reports which field of a record failed validation.
type InvalidRecordError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid record: %s=%q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}

func (e *InvalidRecordError) Unwrap() error {
	return ErrInvalidRecord
}

// IsInvalid returns true if the error indicates a record failed validation.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidRecord)
}

func invalidf(field, value, reason string) error {
	return &InvalidRecordError{Field: field, Value: value, Reason: reason}
}
