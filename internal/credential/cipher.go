// Package credential encrypts the long-lived GitHub access token at rest.
//
// STORAGE FORMAT:
//
//	hex(iv) ":" hex(ciphertext)
//
// The IV (GCM nonce) is not secret. It is stored next to the ciphertext so
// Decrypt can reuse it. Every Encrypt draws a fresh IV, so encrypting the same
// token twice yields two different strings.
//
// AES-256-GCM is authenticated: a flipped bit anywhere in the ciphertext makes
// Open fail instead of returning garbage, which is what lets us tell a
// corrupted row (ErrDecryption) apart from a badly shaped one (ErrFormat).
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/sakif/devstats/internal/apperror"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Cipher holds the process-wide key. It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a raw 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("credential: key must be exactly %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credential: creating cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credential: creating GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex builds a Cipher from the ENCRYPTION_KEY config value
// (64 hex characters). Called once at startup so a bad key fails fast.
func NewCipherFromHex(hexKey string) (*Cipher, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("credential: encryption key is not set")
	}
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("credential: encryption key is not valid hex: %w", err)
	}
	return NewCipher(key)
}

// GenerateKey returns a new random key, hex encoded, suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("credential: generating key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under a fresh random IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("credential: generating iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It has no side effects.
//
// Returns apperror.ErrFormat when the input is not two hex fields of the
// expected shape, apperror.ErrDecryption when GCM rejects the ciphertext.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok || strings.Contains(ctHex, ":") {
		return "", apperror.Format("credential: expected exactly one ':' separator")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", apperror.Format("credential: iv is not valid hex")
	}
	if len(iv) != c.aead.NonceSize() {
		return "", apperror.Format(fmt.Sprintf("credential: iv must be %d bytes, got %d", c.aead.NonceSize(), len(iv)))
	}

	sealed, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", apperror.Format("credential: ciphertext is not valid hex")
	}
	if len(sealed) < c.aead.Overhead() {
		return "", apperror.Format("credential: ciphertext too short")
	}

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", apperror.Decryption("credential: " + err.Error())
	}

	return string(plaintext), nil
}
