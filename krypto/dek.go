package krypto

import (
	"encoding/hex"
	"fmt"
)

// wrapAAD binds wrapped keys to their purpose.
var wrapAAD = []byte("vault.dek.v1")

// EncryptedDek is a data encryption key wrapped under a KEK:
// a 12-byte nonce and ciphertext||16-byte tag.
type EncryptedDek struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

// Bytes linearizes the wrapped key as nonce||ciphertext.
func (e EncryptedDek) Bytes() []byte {
	out := make([]byte, 0, NonceSize+len(e.Ciphertext))
	out = append(out, e.Nonce[:]...)
	return append(out, e.Ciphertext...)
}

// Hex returns the hex encoding of Bytes.
func (e EncryptedDek) Hex() string {
	return hex.EncodeToString(e.Bytes())
}

// ParseEncryptedDek decodes nonce||ciphertext. The input must be long enough to hold a
// nonce, a full key and a tag.
func ParseEncryptedDek(b []byte) (EncryptedDek, error) {
	var e EncryptedDek
	if len(b) < NonceSize+KeySize+TagSize {
		return e, fmt.Errorf("%w: wrapped key too short (%d bytes)", ErrInvalidInput, len(b))
	}
	copy(e.Nonce[:], b[:NonceSize])
	e.Ciphertext = append([]byte(nil), b[NonceSize:]...)
	return e, nil
}

// ParseEncryptedDekHex decodes the form produced by Hex.
func ParseEncryptedDekHex(s string) (EncryptedDek, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EncryptedDek{}, fmt.Errorf("%w: invalid hex: %v", ErrInvalidInput, err)
	}
	return ParseEncryptedDek(b)
}

// EncryptDEK wraps dek under kek with AES-256-GCM and a fresh nonce.
func EncryptDEK(kek KEK, dek *SecureDEK) (EncryptedDek, error) {
	var out EncryptedDek
	err := dek.With(func(key []byte) error {
		nonce, ct, err := EncryptAESGCM(kek[:], key, wrapAAD)
		if err != nil {
			return err
		}
		copy(out.Nonce[:], nonce)
		out.Ciphertext = ct
		return nil
	})
	if err != nil {
		return EncryptedDek{}, fmt.Errorf("wrap dek: %w", err)
	}
	return out, nil
}

// DecryptDEK verifies and unwraps a wrapped key. Wrong key, tampering and truncation all
// yield ErrDecryption.
func DecryptDEK(kek KEK, wrapped EncryptedDek) (*SecureDEK, error) {
	plain, err := DecryptAESGCM(kek[:], wrapped.Nonce[:], wrapped.Ciphertext, wrapAAD)
	if err != nil {
		return nil, ErrDecryption
	}
	if len(plain) != KeySize {
		SecureZero(plain)
		return nil, ErrDecryption
	}
	return NewSecureDEK(plain)
}
