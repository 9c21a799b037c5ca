package quill

import (
	"errors"
	"fmt"

	"github.com/pthm/quill/lib/envelope"
)

// Frame is an alias for envelope.Frame for convenience.
type Frame = envelope.Frame

// Codec is an alias for envelope.Codec for convenience.
type Codec = envelope.Codec

// ConnID is an alias for envelope.ConnID for convenience.
type ConnID = envelope.ConnID

// wrapEnvelopeError maps envelope errors onto quill sentinel errors.
func wrapEnvelopeError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, envelope.ErrDecryptFailed), errors.Is(err, envelope.ErrNoKey):
		return fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	case errors.Is(err, envelope.ErrInvalidFormat), errors.Is(err, envelope.ErrUnexpectedAction):
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	case errors.Is(err, envelope.ErrInvalidKey):
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return err
}
