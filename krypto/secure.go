package krypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDEKReleased is returned when a released SecureDEK is used.
var ErrDEKReleased = errors.New("data encryption key has been released")

// SecureZero overwrites buf with zeros. The write goes through memguard and is not elided
// by the compiler.
func SecureZero(buf []byte) {
	if len(buf) == 0 {
		return
	}
	memguard.WipeBytes(buf)
}

// SecureDEK exclusively owns the 32 raw bytes of a data encryption key. The bytes live in a
// locked memguard buffer and are wiped exactly once by Release. A SecureDEK must not be copied;
// use Clone to hand the key to another owner.
type SecureDEK struct {
	mu  sync.Mutex
	buf *memguard.LockedBuffer
}

// NewSecureDEK moves raw into a locked buffer. raw is wiped before NewSecureDEK returns.
func NewSecureDEK(raw []byte) (*SecureDEK, error) {
	if len(raw) != KeySize {
		SecureZero(raw)
		return nil, fmt.Errorf("%w: data encryption key must be %d bytes, got %d", ErrInvalidInput, KeySize, len(raw))
	}
	buf := memguard.NewBufferFromBytes(raw)
	buf.Freeze()
	return &SecureDEK{buf: buf}, nil
}

// GenerateDEK returns a fresh random data encryption key.
func GenerateDEK() (*SecureDEK, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate dek: %w", err)
	}
	return NewSecureDEK(raw)
}

// With calls fn with read-only access to the key bytes. fn must not retain the slice.
func (d *SecureDEK) With(fn func(key []byte) error) error {
	if d == nil {
		return ErrDEKReleased
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf == nil || !d.buf.IsAlive() {
		return ErrDEKReleased
	}
	return fn(d.buf.Bytes())
}

// Clone duplicates the key into a new, independently owned SecureDEK.
func (d *SecureDEK) Clone() (*SecureDEK, error) {
	var dup *SecureDEK
	err := d.With(func(key []byte) error {
		raw := make([]byte, KeySize)
		copy(raw, key)
		var err error
		dup, err = NewSecureDEK(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dup, nil
}

// Equal reports whether d and other hold the same key bytes, in constant time.
// At most one of the two locks is held at any moment.
func (d *SecureDEK) Equal(other *SecureDEK) bool {
	if d == nil || other == nil || d == other {
		return d == other
	}
	theirs, err := other.Clone()
	if err != nil {
		return false
	}
	defer theirs.Release()

	eq := false
	_ = d.With(func(a []byte) error {
		return theirs.With(func(b []byte) error {
			eq = subtle.ConstantTimeCompare(a, b) == 1
			return nil
		})
	})
	return eq
}

// Released reports whether Release has already run.
func (d *SecureDEK) Released() bool {
	if d == nil {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf == nil
}

// Release wipes the key and frees the locked memory. Calling it more than once is a no-op.
func (d *SecureDEK) Release() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf == nil {
		return
	}
	d.buf.Destroy()
	d.buf = nil
}
