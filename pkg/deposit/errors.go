package deposit

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrInvalidModel indicates the metadata could not be coerced into the model
	ErrInvalidModel = errors.New("invalid model")

	// ErrMissingReference indicates a graph reference did not resolve in the entity set
	ErrMissingReference = errors.New("missing reference")

	// ErrIO indicates a failure reading file content or writing the package
	ErrIO = errors.New("package i/o failure")

	// ErrUnparseable indicates a free-text value did not match any known enumeration value
	ErrUnparseable = errors.New("unparseable value")

	// ErrSubmissionNotFound indicates the root submission entity is unknown to the entity source
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrObjectNotFound indicates a content store has no object under the requested key
	ErrObjectNotFound = errors.New("object not found")

	// ErrNoStore indicates no content store is registered for a file location
	ErrNoStore = errors.New("no content store for location")
)

// InvalidModelError identifies the field and raw value that could not be
// coerced into the model.
type InvalidModelError struct {
	Field string
	Value string
	Err   error
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid model: field %s has invalid value %q: %v", e.Field, e.Value, e.Err)
}

func (e *InvalidModelError) Unwrap() error {
	return e.Err
}

func (e *InvalidModelError) Is(target error) bool {
	return target == ErrInvalidModel
}

// ReferenceError reports a graph reference that does not resolve, or that
// resolves to an entity of the wrong kind (Found is set in that case).
type ReferenceError struct {
	From     string
	Field    string
	ID       string
	Expected EntityKind
	Found    EntityKind
}

func (e *ReferenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("missing reference: %s of %s is not set", e.Field, e.From)
	}
	if e.Found != "" {
		return fmt.Sprintf("missing reference: %s %s of %s is a %s, expected %s", e.Field, e.ID, e.From, e.Found, e.Expected)
	}
	return fmt.Sprintf("missing reference: %s %s of %s (%s) not found", e.Field, e.ID, e.From, e.Expected)
}

func (e *ReferenceError) Is(target error) bool {
	return target == ErrMissingReference
}

// PackageError represents a failure while streaming a deposit package.
type PackageError struct {
	Op    string
	Entry string
	Err   error
}

func (e *PackageError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("package operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("package operation %s failed for entry %s: %v", e.Op, e.Entry, e.Err)
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

func (e *PackageError) Is(target error) bool {
	return target == ErrIO
}
