package krypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands key into an outLen-byte subkey bound to salt and info (HKDF-SHA256, RFC 5869).
func DeriveSubkey(key, salt, info []byte, outLen int) ([]byte, error) {
	if outLen <= 0 {
		return nil, errors.New("invalid hkdf length")
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: hkdf input key is empty", ErrInvalidInput)
	}

	out := make([]byte, outLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, info), out); err != nil {
		SecureZero(out)
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
