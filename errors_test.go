package quill

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pthm/quill/lib/envelope"
)

func TestSentinelErrors(t *testing.T) {
	// Verify sentinel errors are distinct
	errs := []error{
		ErrNotFound,
		ErrDecryptFailed,
		ErrInvalidFormat,
		ErrHandshake,
		ErrNoSession,
		ErrSessionClosed,
		ErrUnknownField,
		ErrFieldType,
		ErrHookOrder,
		ErrDuplicateRoute,
		ErrPanic,
	}

	for i, err1 := range errs {
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{"nil error", nil, false},
		{"ErrNotFound", ErrNotFound, true},
		{"wrapped ErrNotFound", fmt.Errorf("wrapped: %w", ErrNotFound), true},
		{"other error", errors.New("other error"), false},
		{"ErrDecryptFailed", ErrDecryptFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsNotFound(tt.err)
			if result != tt.expect {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, result, tt.expect)
			}
		})
	}
}

func TestIsDecryptionError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{"nil error", nil, false},
		{"ErrDecryptFailed", ErrDecryptFailed, true},
		{"ErrInvalidFormat", ErrInvalidFormat, true},
		{"wrapped ErrDecryptFailed", fmt.Errorf("wrapped: %w", ErrDecryptFailed), true},
		{"ErrNotFound", ErrNotFound, false},
		{"ErrHandshake", ErrHandshake, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsDecryptionError(tt.err)
			if result != tt.expect {
				t.Errorf("IsDecryptionError(%v) = %v, want %v", tt.err, result, tt.expect)
			}
		})
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{"nil error", nil, false},
		{"unknown field", &FieldError{State: "s", Field: "x", Err: ErrUnknownField}, true},
		{"field type", &FieldError{State: "s", Field: "x", Err: ErrFieldType}, true},
		{"wrapped field error", fmt.Errorf("set: %w", &FieldError{Err: ErrFieldType}), true},
		{"hook order", ErrHookOrder, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidationError(tt.err)
			if result != tt.expect {
				t.Errorf("IsValidationError(%v) = %v, want %v", tt.err, result, tt.expect)
			}
		})
	}
}

func TestIsHookOrder(t *testing.T) {
	if !IsHookOrder(fmt.Errorf("%w: slot 1", ErrHookOrder)) {
		t.Error("IsHookOrder should match wrapped ErrHookOrder")
	}
	if IsHookOrder(ErrFieldType) {
		t.Error("IsHookOrder should not match ErrFieldType")
	}
}

func TestIsPanic(t *testing.T) {
	if !IsPanic(fmt.Errorf("%w: boom", ErrPanic)) {
		t.Error("IsPanic should match wrapped ErrPanic")
	}
	if IsPanic(ErrHookOrder) {
		t.Error("IsPanic should not match ErrHookOrder")
	}
}

func TestFieldErrorMessage(t *testing.T) {
	err := &FieldError{State: "counter", Field: "count", Value: "abc", Want: "int", Err: ErrFieldType}
	want := `quill: state "counter": invalid value for field "count": "abc" (want int)`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = &FieldError{State: "counter", Field: "nope", Err: ErrUnknownField}
	want = `quill: state "counter": unknown field "nope"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var fe *FieldError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &fe) || fe.Field != "nope" {
		t.Error("errors.As should find *FieldError")
	}
}

func TestWrapEnvelopeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"decrypt failed", envelope.ErrDecryptFailed, ErrDecryptFailed},
		{"no key", envelope.ErrNoKey, ErrDecryptFailed},
		{"invalid format", envelope.ErrInvalidFormat, ErrInvalidFormat},
		{"unexpected action", envelope.ErrUnexpectedAction, ErrInvalidFormat},
		{"invalid key", envelope.ErrInvalidKey, ErrHandshake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapEnvelopeError(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("wrapEnvelopeError(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !errors.Is(got, tt.in) {
				t.Errorf("wrapEnvelopeError(%v) lost the original error", tt.in)
			}
		})
	}

	if wrapEnvelopeError(nil) != nil {
		t.Error("wrapEnvelopeError(nil) should be nil")
	}
	other := errors.New("other")
	if wrapEnvelopeError(other) != other {
		t.Error("unrelated errors should pass through")
	}
}
