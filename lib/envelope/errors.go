package envelope

import "errors"

// Sentinel errors for envelope operations.
var (
	ErrUnexpectedAction = errors.New("envelope: unexpected action")
	ErrInvalidKey       = errors.New("envelope: invalid public key")
	ErrInvalidFormat    = errors.New("envelope: invalid message format")
	ErrNoKey            = errors.New("envelope: no key for connection")
	ErrDecryptFailed    = errors.New("envelope: decryption failed")
)
