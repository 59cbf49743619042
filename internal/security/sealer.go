package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix marks values produced by Sealer so plaintext rows written before a key was
// configured still read back.
const sealedPrefix = "v1:"

// ErrUnseal is returned when a sealed value cannot be authenticated with the configured key.
var ErrUnseal = errors.New("security: unseal failed")

// Sealer encrypts provider tokens at rest with XChaCha20-Poly1305. A nil *Sealer passes values
// through unchanged.
type Sealer struct {
	key []byte
}

// NewSealer returns a Sealer for a 32-byte key, or nil when key is empty.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, nil
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Sealer{key: k}, nil
}

// Seal encrypts plaintext. The additional data binds the ciphertext to its row (e.g. session id)
// so a value cannot be moved between rows.
func (s *Sealer) Seal(plaintext, additional string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(additional))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is.
func (s *Sealer) Open(value, additional string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s == nil {
		return "", ErrUnseal
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrUnseal
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrUnseal
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(additional))
	if err != nil {
		return "", ErrUnseal
	}
	return string(pt), nil
}
