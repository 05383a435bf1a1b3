// Package secret encrypts tool environment maps at rest. The core
// never sees ciphertext: the storage layer decrypts on read and hands
// the orchestrator ready-to-use tool definitions.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Cipher performs AES-256-GCM encryption with a fixed key. The wire
// layout is base64(ciphertext || nonce || tag), kept compatible with
// previously stored records.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a base64-encoded 32-byte key.
func NewCipher(keyBase64 string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key length: got %d bytes, want %d", len(key), keySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns the base64-encoded record.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// Seal appends ciphertext||tag; the stored layout wants the nonce
	// between them.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, len(sealed)+nonceSize)
	out = append(out, ciphertext...)
	out = append(out, nonce...)
	out = append(out, tag...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64-encoded record produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}

	ciphertext := raw[:len(raw)-nonceSize-tagSize]
	nonce := raw[len(raw)-nonceSize-tagSize : len(raw)-tagSize]
	tag := raw[len(raw)-tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
