// Package security seals transfer receipts so only the key holder can read
// them.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey     = fmt.Errorf("receipt key must be %d bytes", KeySize)
	ErrUnsealFailed   = errors.New("receipt could not be opened")
	ErrSealedTooShort = errors.New("sealed receipt is too short")
)

type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// SecretBox seals with XSalsa20-Poly1305. Output is nonce || box.
type SecretBox struct {
	key [KeySize]byte
}

func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	s := &SecretBox{}
	copy(s.key[:], key)
	return s, nil
}

// NewSecretBoxFromHex parses a hex-encoded key, as stored in configuration.
func NewSecretBoxFromHex(encoded string) (*SecretBox, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode receipt key: %w", err)
	}
	return NewSecretBox(key)
}

func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate receipt key: %w", err)
	}
	return key, nil
}

func (s *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *SecretBox) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrSealedTooShort
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnsealFailed
	}
	return plaintext, nil
}
