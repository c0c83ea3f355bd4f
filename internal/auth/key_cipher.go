package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errInvalidCiphertext = errors.New("invalid cookie ciphertext")

// keyCipher seals API keys into cookie values with AES-256-GCM.
type keyCipher struct {
	aead cipher.AEAD
}

// newKeyCipher builds a cipher from a 32-byte raw or base64 key. An empty key
// yields a random one, which invalidates sealed cookies on restart.
func newKeyCipher(raw string) (*keyCipher, error) {
	raw = strings.TrimSpace(raw)
	var (
		key []byte
		err error
	)
	if raw == "" {
		key = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("generate cookie key: %w", err)
		}
	} else if key, err = decodeKey(raw); err != nil {
		return nil, fmt.Errorf("decode cookie key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &keyCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

// Seal encrypts plain; label is bound as additional data so a value sealed
// for one cookie cannot be replayed as another.
func (c *keyCipher) Seal(label, plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), []byte(label))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *keyCipher) Open(label, input string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], []byte(label))
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
