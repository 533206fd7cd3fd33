package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("Unauthorized")
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrMediaUnavailable   = errors.New("Media storage is not available")

	// ErrNotFound is returned for a missing chat and for a chat the caller
	// is not a member of. Callers cannot tell the two apart.
	ErrNotFound        = errors.New("Chat not found or access denied")
	ErrMessageNotFound error = &kindError{msg: "Message not found or access denied", kind: ErrNotFound}
	ErrUserNotFound    error = &kindError{msg: "User not found", kind: ErrNotFound}

	ErrConflict      = errors.New("conflict")
	ErrUserExists    error = &kindError{msg: "User already exists", kind: ErrConflict}
	ErrContactExists error = &kindError{msg: "Contact already exists", kind: ErrConflict}
)

// kindError carries its own client message and matches its kind with errors.Is.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// ValidationError is a client input error. Msg is returned to the client as is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
