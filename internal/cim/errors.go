package cim

import (
	"errors"
	"fmt"
)

var (
	// ErrNotClassified is returned when a payload has no recognizable document root.
	ErrNotClassified = errors.New("cim: document not classified")
	ErrEmptyPayload  = errors.New("cim: empty payload")
	ErrUnknownKind   = errors.New("cim: unknown document kind")
)

// ValidationError reports a malformed identifier or value.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cim: invalid %s %q", e.Field, e.Value)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
