package agenda

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by remove operations when no entry has the given ID.
var ErrNotFound = errors.New("entry not found")

// ValidationError rejects bad user input at the mutation boundary.
// Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
