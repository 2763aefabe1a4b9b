// Package crypto provides at-rest field encryption for personal data.
//
// Fields are sealed with AES-256-GCM under a key derived from the configured
// 32-byte secret with HKDF-SHA256. Ciphertexts are versioned, base64 encoded
// strings so they fit in text columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the required length of the secret in bytes.
const KeySize = 32

// ciphertextPrefix tags the envelope version.
const ciphertextPrefix = "v1:"

// fieldKeyInfo is the HKDF info label for the field encryption key.
const fieldKeyInfo = "leadpipe-field-encryption"

var (
	// ErrInvalidKeyLength is returned when the secret is not KeySize bytes.
	ErrInvalidKeyLength = errors.New("encryption key must be 32 bytes")
	// ErrMissingKey is returned when no secret was configured.
	ErrMissingKey = errors.New("encryption key not set")
	// ErrBadFormat is returned when a ciphertext is malformed or fails authentication.
	ErrBadFormat = errors.New("BAD_FORMAT: malformed ciphertext")
)

// Cipher encrypts and decrypts individual string fields.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte secret.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	if len(secret) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(secret))
	}

	fieldKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(fieldKeyInfo)), fieldKey); err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}
	block, err := aes.NewCipher(fieldKey)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey decodes a secret given as base64 or hex and checks its length.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrMissingKey
	}
	if key, err := hex.DecodeString(encoded); err == nil && len(key) == KeySize {
		return key, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != KeySize {
				return nil, fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(key))
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: not valid base64 or hex", ErrInvalidKeyLength)
}

// Encrypt seals plaintext. Each call uses a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed or tampered input
// yields ErrBadFormat.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	body, ok := strings.CutPrefix(ciphertext, ciphertextPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing version prefix", ErrBadFormat)
	}
	blob, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	ns := c.aead.NonceSize()
	if len(blob) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrBadFormat)
	}
	plain, err := c.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrBadFormat)
	}
	return string(plain), nil
}
