package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the AES-GCM nonce length (96 bits).
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16
)

var (
	// ErrEncryption is returned when the cipher cannot seal a message.
	ErrEncryption = errors.New("encryption failed")
	// ErrDecryption is returned for any failed open: wrong key, tampering or truncation.
	ErrDecryption = errors.New("decryption failed")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aes-gcm requires a %d-byte key", KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// EncryptAESGCM encrypts plaintext using AES-256-GCM under a fresh random nonce,
// returning the nonce and ciphertext||tag.
func EncryptAESGCM(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: generate nonce: %v", ErrEncryption, err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// DecryptAESGCM authenticates and decrypts ciphertext||tag. Every failure is reported as
// ErrDecryption without the underlying cause.
func DecryptAESGCM(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, ErrDecryption
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryption
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
