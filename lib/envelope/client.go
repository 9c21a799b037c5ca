package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// Client is the peer side of the handshake. The browser runtime implements
// the same steps; Client exists for Go clients and tests.
type Client struct {
	private []byte
	public  []byte
	aead    cipher.AEAD
	codec   Codec
	derive  KeyDerivation
}

// NewClient generates a client key pair.
func NewClient(opts ...Option) (*Client, error) {
	cfg := New(opts...)
	private := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, private); err != nil {
		return nil, err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &Client{
		private: private,
		public:  public,
		codec:   cfg.codec,
		derive:  cfg.derive,
	}, nil
}

// Hello returns the public key announcement frame.
func (c *Client) Hello() Frame {
	return Frame{
		Action: ActionPublicKey,
		Key:    base64.StdEncoding.EncodeToString(c.public),
	}
}

// Accept completes the handshake with the server's reply.
func (c *Client) Accept(f Frame) error {
	if f.Action != ActionServerPublicKey {
		return fmt.Errorf("%w: %q", ErrUnexpectedAction, f.Action)
	}
	peer, err := base64.StdEncoding.DecodeString(f.ServerPublicKey)
	if err != nil || len(peer) != curve25519.PointSize {
		return ErrInvalidKey
	}
	shared, err := curve25519.X25519(c.private, peer)
	if err != nil {
		return ErrInvalidKey
	}
	key, err := c.derive(shared)
	if err != nil {
		return err
	}
	c.aead, err = newAEAD(key)
	return err
}

// Seal encodes and encrypts a client message.
func (c *Client) Seal(v any) (Frame, error) {
	if c.aead == nil {
		return Frame{}, ErrNoKey
	}
	plaintext, err := c.codec.Marshal(v)
	if err != nil {
		return Frame{}, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Frame{}, err
	}
	return Frame{
		Action: ActionEncryptedMessage,
		Data:   base64.StdEncoding.EncodeToString(c.aead.Seal(nil, nonce, plaintext, nil)),
		Nonce:  base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Open decrypts a server response and decodes its payload into v.
func (c *Client) Open(f Frame, v any) error {
	if f.Action != ActionEncryptedResponse {
		return fmt.Errorf("%w: %q", ErrUnexpectedAction, f.Action)
	}
	if c.aead == nil {
		return ErrNoKey
	}
	plaintext, err := open(c.aead, f.EncryptedPayload, f.Nonce)
	if err != nil {
		return err
	}
	if err := c.codec.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return nil
}
