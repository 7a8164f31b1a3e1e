package source

import (
	"fmt"
	"strings"
)

// DuplicateSourceError indicates a source with the same name already exists.
type DuplicateSourceError struct {
	Name string
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("source %q already registered", e.Name)
}

// ErrDuplicateSource creates an error for duplicate source registration.
func ErrDuplicateSource(name string) error {
	return &DuplicateSourceError{Name: name}
}

// SourceNotFoundError indicates the requested source does not exist.
type SourceNotFoundError struct {
	Name string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source %q not found", e.Name)
}

// ErrSourceNotFound creates an error for a missing source.
func ErrSourceNotFound(name string) error {
	return &SourceNotFoundError{Name: name}
}

// SnapshotError indicates a source failed to produce its snapshot.
type SnapshotError struct {
	Source string
	Err    error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("source %s: snapshot failed: %v", e.Source, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// DuplicateDesiredError reports two or more sources wanting different
// content for the same (provider, type, name) key. The key is excluded
// from the desired set; the rest of the snapshot proceeds.
type DuplicateDesiredError struct {
	Key      DesiredKey
	Contents []string
	Sources  []string
}

func (e *DuplicateDesiredError) Error() string {
	return fmt.Sprintf("conflicting desired content for %s: %s (from %s)",
		e.Key, strings.Join(e.Contents, " vs "), strings.Join(e.Sources, ", "))
}
