package quill

import (
	"errors"
	"fmt"
)

// Sentinel errors for runtime operations.
var (
	ErrNotFound       = errors.New("quill: no route matches path")
	ErrDecryptFailed  = errors.New("quill: message decryption failed")
	ErrInvalidFormat  = errors.New("quill: invalid message format")
	ErrHandshake      = errors.New("quill: key exchange failed")
	ErrNoSession      = errors.New("quill: no active session")
	ErrSessionClosed  = errors.New("quill: session closed")
	ErrUnknownField   = errors.New("quill: unknown state field")
	ErrFieldType      = errors.New("quill: invalid state value")
	ErrHookOrder      = errors.New("quill: hook call order changed between renders")
	ErrDuplicateRoute = errors.New("quill: duplicate route")
	ErrPanic          = errors.New("quill: panic in session code")
)

// FieldError reports a rejected state mutation.
type FieldError struct {
	State string
	Field string
	Value any
	Want  string
	Err   error
}

func (e *FieldError) Error() string {
	if errors.Is(e.Err, ErrFieldType) {
		return fmt.Sprintf("quill: state %q: invalid value for field %q: %#v (want %s)", e.State, e.Field, e.Value, e.Want)
	}
	return fmt.Sprintf("quill: state %q: unknown field %q", e.State, e.Field)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if err is a route miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDecryptionError checks if err came from a rejected client frame.
func IsDecryptionError(err error) bool {
	return errors.Is(err, ErrDecryptFailed) || errors.Is(err, ErrInvalidFormat)
}

// IsValidationError checks if err is a rejected state mutation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnknownField) || errors.Is(err, ErrFieldType)
}

// IsHookOrder checks if err is a hook order violation.
func IsHookOrder(err error) bool {
	return errors.Is(err, ErrHookOrder)
}

// IsPanic checks if err is a recovered panic from page, component or
// handler code.
func IsPanic(err error) bool {
	return errors.Is(err, ErrPanic)
}
