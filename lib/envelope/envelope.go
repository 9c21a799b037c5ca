// Package envelope implements the per-connection encrypted transport.
//
// A connection starts with an unencrypted X25519 public key exchange:
//
//	client -> {"action": "public_key", "key": base64(pub)}
//	server -> {"action": "server_public_key", "server_public_key": base64(pub)}
//
// Both sides derive the same 32-byte AES-256-GCM key. Every later frame is
// an envelope around a payload encoded with a Codec:
//
//	client -> {"action": "encrypted_message", "data": ..., "nonce": ...}
//	server -> {"action": "encrypted_response", "encrypted_payload": ..., "nonce": ...}
//
// Nonces are 12 random bytes, fresh for every encrypted frame.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Frame actions.
const (
	ActionPublicKey         = "public_key"
	ActionServerPublicKey   = "server_public_key"
	ActionEncryptedMessage  = "encrypted_message"
	ActionEncryptedResponse = "encrypted_response"
)

// NonceSize is the AES-GCM nonce length used on the wire.
const NonceSize = 12

// KeySize is the symmetric key length (AES-256).
const KeySize = 32

// hkdfInfo binds derived keys to this protocol.
var hkdfInfo = []byte("quill/aes-256-gcm")

// ConnID identifies a connection. Key material is scoped to it.
type ConnID string

// Frame is the outer JSON message exchanged on the socket.
type Frame struct {
	Action           string `json:"action"`
	Key              string `json:"key,omitempty"`
	ServerPublicKey  string `json:"server_public_key,omitempty"`
	Data             string `json:"data,omitempty"`
	EncryptedPayload string `json:"encrypted_payload,omitempty"`
	Nonce            string `json:"nonce,omitempty"`
}

// KeyDerivation turns an X25519 shared secret into the AES key.
type KeyDerivation func(shared []byte) ([]byte, error)

// HKDF derives the key with HKDF-SHA256. This is the default.
func HKDF(shared []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, err
	}
	return key, nil
}

// Raw uses the 32-byte shared secret as the key directly.
func Raw(shared []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	copy(key, shared)
	return key, nil
}

// Option configures a Crypto.
type Option func(*Crypto)

// WithCodec sets the payload codec. Defaults to JSON.
func WithCodec(c Codec) Option {
	return func(cr *Crypto) {
		cr.codec = c
	}
}

// WithKeyDerivation replaces the default HKDF derivation.
func WithKeyDerivation(kd KeyDerivation) Option {
	return func(cr *Crypto) {
		cr.derive = kd
	}
}

// WithRandom sets the entropy source for keys and nonces (tests only).
func WithRandom(r io.Reader) Option {
	return func(cr *Crypto) {
		cr.rand = r
	}
}

type connKeys struct {
	private []byte
	key     []byte
	aead    cipher.AEAD
}

// Crypto holds key material for every live connection.
type Crypto struct {
	mu     sync.Mutex
	conns  map[ConnID]*connKeys
	codec  Codec
	derive KeyDerivation
	rand   io.Reader
}

// New creates a Crypto with no connections.
func New(opts ...Option) *Crypto {
	c := &Crypto{
		conns:  make(map[ConnID]*connKeys),
		codec:  JSON,
		derive: HKDF,
		rand:   rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Codec returns the payload codec.
func (c *Crypto) Codec() Codec {
	return c.codec
}

// HandleKeyExchange answers a client public key announcement.
//
// On success the derived key is stored for id and the server public key is
// passed to send. On any input error nothing is stored and send is not
// called.
func (c *Crypto) HandleKeyExchange(id ConnID, f Frame, send func(Frame) error) error {
	if f.Action != ActionPublicKey {
		return fmt.Errorf("%w: %q", ErrUnexpectedAction, f.Action)
	}
	peer, err := base64.StdEncoding.DecodeString(f.Key)
	if err != nil || len(peer) != curve25519.PointSize {
		return ErrInvalidKey
	}

	private := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(c.rand, private); err != nil {
		return err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return err
	}
	shared, err := curve25519.X25519(private, peer)
	if err != nil {
		// low-order point
		return ErrInvalidKey
	}
	key, err := c.derive(shared)
	if err != nil {
		return err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conns[id] = &connKeys{private: private, key: key, aead: aead}
	c.mu.Unlock()

	return send(Frame{
		Action:          ActionServerPublicKey,
		ServerPublicKey: base64.StdEncoding.EncodeToString(public),
	})
}

// SetKey installs a symmetric key for id directly, bypassing the exchange.
func (c *Crypto) SetKey(id ConnID, key []byte) error {
	aead, err := newAEAD(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = &connKeys{key: append([]byte(nil), key...), aead: aead}
	return nil
}

// Decrypt opens an encrypted client frame and decodes its payload into v.
func (c *Crypto) Decrypt(id ConnID, f Frame, v any) error {
	if f.Action != ActionEncryptedMessage {
		return fmt.Errorf("%w: %q", ErrUnexpectedAction, f.Action)
	}
	aead, ok := c.aead(id)
	if !ok {
		return ErrNoKey
	}
	plaintext, err := open(aead, f.Data, f.Nonce)
	if err != nil {
		return err
	}
	if err := c.codec.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return nil
}

// Encrypt encodes content and seals it into a server response frame.
func (c *Crypto) Encrypt(id ConnID, content any) (Frame, error) {
	aead, ok := c.aead(id)
	if !ok {
		return Frame{}, ErrNoKey
	}
	plaintext, err := c.codec.Marshal(content)
	if err != nil {
		return Frame{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return Frame{}, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return Frame{
		Action:           ActionEncryptedResponse,
		EncryptedPayload: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:            base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Cleanup erases all key material for id. Unknown ids are ignored.
func (c *Crypto) Cleanup(id ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.conns[id]
	if !ok {
		return
	}
	clear(ck.private)
	clear(ck.key)
	delete(c.conns, id)
}

// Has reports whether a symmetric key exists for id.
func (c *Crypto) Has(id ConnID) bool {
	_, ok := c.aead(id)
	return ok
}

// Len returns the number of connections holding key material.
func (c *Crypto) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *Crypto) aead(id ConnID) (cipher.AEAD, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck, ok := c.conns[id]
	if !ok || ck.aead == nil {
		return nil, false
	}
	return ck.aead, true
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func open(aead cipher.AEAD, data, nonce string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrInvalidFormat, err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrInvalidFormat, err)
	}
	if len(n) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidFormat, aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, n, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
