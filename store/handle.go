package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

const (
	fieldSaltLen = 16
	fieldInfo    = "vault-field-v1"
)

// ErrClosed is returned by a Handle after the vault has been locked.
var ErrClosed = errors.New("storage handle is closed")

// Handle is the open storage session handed to the record layer while the vault is unlocked.
// It holds its own copy of the data encryption key, wiped when the handle is closed.
type Handle struct {
	db  *sql.DB
	dek *krypto.SecureDEK
}

// DB returns the underlying database for record CRUD.
func (h *Handle) DB() *sql.DB { return h.db }

// SealField encrypts a record field under a per-field key derived from the session DEK.
// The result is salt(16) || nonce(12) || ciphertext || tag(16).
func (h *Handle) SealField(plaintext []byte) ([]byte, error) {
	salt := make([]byte, fieldSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate field salt: %w", err)
	}

	var blob []byte
	err := h.withFieldKey(salt, func(key []byte) error {
		nonce, ct, err := krypto.EncryptAESGCM(key, plaintext, salt)
		if err != nil {
			return err
		}
		blob = make([]byte, 0, fieldSaltLen+len(nonce)+len(ct))
		blob = append(blob, salt...)
		blob = append(blob, nonce...)
		blob = append(blob, ct...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seal field: %w", err)
	}
	return blob, nil
}

// OpenField reverses SealField.
func (h *Handle) OpenField(blob []byte) ([]byte, error) {
	if len(blob) < fieldSaltLen+krypto.NonceSize+krypto.TagSize {
		return nil, fmt.Errorf("open field: %w", krypto.ErrDecryption)
	}
	salt := blob[:fieldSaltLen]
	nonce := blob[fieldSaltLen : fieldSaltLen+krypto.NonceSize]
	ct := blob[fieldSaltLen+krypto.NonceSize:]

	var plaintext []byte
	err := h.withFieldKey(salt, func(key []byte) error {
		var err error
		plaintext, err = krypto.DecryptAESGCM(key, nonce, ct, salt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open field: %w", err)
	}
	return plaintext, nil
}

func (h *Handle) withFieldKey(salt []byte, fn func(key []byte) error) error {
	if h == nil {
		return ErrClosed
	}
	err := h.dek.With(func(dek []byte) error {
		key, err := krypto.DeriveSubkey(dek, salt, []byte(fieldInfo), krypto.KeySize)
		if err != nil {
			return err
		}
		defer krypto.SecureZero(key)
		return fn(key)
	})
	if errors.Is(err, krypto.ErrDEKReleased) {
		return ErrClosed
	}
	return err
}

func (h *Handle) close() error {
	h.dek.Release()
	return h.db.Close()
}
