package eep

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProfileNotFound is returned if a profile id is not in the Registry
	ErrProfileNotFound = errors.New("eep: profile not found")
	// ErrUnknownDevice is returned if a sender has no profile assigned
	ErrUnknownDevice = errors.New("eep: unknown device")
	// ErrOutOfRange is wrapped by ExtractionError if a field does not fit the payload
	ErrOutOfRange = errors.New("bit range exceeds payload")
	// ErrUnmapped is wrapped by ExtractionError if an enum table has no label for a raw value
	ErrUnmapped = errors.New("raw value not in enum table")
	// ErrValue is wrapped by ExtractionError if Encode gets a value the field can not represent
	ErrValue = errors.New("value not representable")
)

// ExtractionError reports the field a telegram could not be decoded at
type ExtractionError struct {
	Profile ID
	Field   string
	Raw     uint64
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("eep: %v field %q (raw %d): %v", e.Profile, e.Field, e.Raw, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ProfileError collects what is wrong with a single profile definition
type ProfileError struct {
	Source  string // File the profile was read from, if any
	Profile string
	Errs    []error
}

func (e *ProfileError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	name := e.Profile
	if e.Source != "" {
		name = fmt.Sprintf("%s (%s)", e.Profile, e.Source)
	}
	return fmt.Sprintf("profile %s: %s", name, strings.Join(msgs, "; "))
}

func (e *ProfileError) Unwrap() []error { return e.Errs }

// LoadError aggregates every invalid definition found while loading a Registry
type LoadError struct {
	Errs []error
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("eep: %d invalid profile definitions:\n\t%s", len(e.Errs), strings.Join(msgs, "\n\t"))
}

func (e *LoadError) Unwrap() []error { return e.Errs }
