package providers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrNoKey         = errors.New("keyring has no key")
	ErrUndecryptable = errors.New("credential cannot be decrypted")
)

// Keyring seals provider API keys at rest with NaCl secretbox.
type Keyring struct {
	key *[32]byte
}

// NewKeyring parses a base64 32-byte key. An empty key yields a keyring that can
// neither seal nor open, so every sealed credential is reported unresolvable.
func NewKeyring(encoded string) (*Keyring, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return &Keyring{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode provider secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("provider secret key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &Keyring{key: &key}, nil
}

// GenerateKey returns a fresh base64 key suitable for NewKeyring.
func GenerateKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

func (k *Keyring) Seal(plaintext string) (string, error) {
	if k == nil || k.key == nil {
		return "", ErrNoKey
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, k.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (k *Keyring) Open(sealed string) (string, error) {
	if k == nil || k.key == nil {
		return "", ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrUndecryptable
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, k.key)
	if !ok {
		return "", ErrUndecryptable
	}
	return string(plain), nil
}
