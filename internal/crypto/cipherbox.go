// Package crypto provides authenticated symmetric encryption for stored
// contact records. A single process-wide AES-256 key is loaded at startup;
// rotation is not supported — changing the key makes previously stored
// ciphertexts unreadable.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const keySize = 32 // AES-256

var (
	// ErrEncryptionFailed indicates the plaintext could not be sealed.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrDecryptionFailed indicates the ciphertext is corrupted, truncated,
	// or was produced under a different key.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidKey indicates the configured key is not a base64 32-byte value.
	ErrInvalidKey = errors.New("invalid encryption key")
)

// CipherBox seals and opens opaque text payloads with AES-256-GCM.
type CipherBox struct {
	aead cipher.AEAD
}

// New constructs a CipherBox from a base64-encoded 32-byte key.
func New(keyB64 string) (*CipherBox, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &CipherBox{aead: aead}, nil
}

// Generate returns a fresh random key in the base64 form New accepts.
// The caller must surface the value to the operator: a lost key makes every
// stored ciphertext permanently unrecoverable.
func Generate() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
func (b *CipherBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered or foreign-key
// inputs fail with ErrDecryptionFailed; garbage plaintext is never returned.
func (b *CipherBox) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}
