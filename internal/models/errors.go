package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrSessionIDRequired indicates a record without a session.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidOutcome indicates an outcome outside the known set.
	ErrInvalidOutcome = errors.New("invalid outcome: must be success, transport_error, parse_error or cancelled")
)
