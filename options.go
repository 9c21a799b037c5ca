package quill

import (
	"go.uber.org/zap"

	"github.com/pthm/quill/lib/envelope"
)

// Option configures an App.
type Option func(*App)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(a *App) {
		a.cfg = cfg
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithCodec overrides the payload codec named by the configuration.
func WithCodec(c envelope.Codec) Option {
	return func(a *App) {
		a.codec = c
	}
}

// WithKeyDerivation overrides how the shared secret becomes the AES key.
// Clients must use the same derivation.
func WithKeyDerivation(kd envelope.KeyDerivation) Option {
	return func(a *App) {
		a.derive = kd
	}
}

// WithErrorHandler sets App.OnError.
func WithErrorHandler(fn func(*Session, error) error) Option {
	return func(a *App) {
		a.OnError = fn
	}
}
