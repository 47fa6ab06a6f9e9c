package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltSize is the length of a vault salt in bytes.
	SaltSize = 32
	// KeySize is the length of every symmetric key handled by this package.
	KeySize = 32
)

var (
	// ErrKeyDerivation is returned when a KEK cannot be derived.
	ErrKeyDerivation = errors.New("key derivation failed")
	// ErrInvalidInput reports malformed key material or serialized data.
	ErrInvalidInput = errors.New("invalid input")
)

// Argon2Params captures the Argon2id cost parameters.
type Argon2Params struct {
	MemoryMB    uint32
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

// DefaultArgon2Params returns the fixed vault configuration: 64 MiB, 3 passes, 1 lane, 32-byte output.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		MemoryMB:    64,
		Time:        3,
		Parallelism: 1,
		KeyLen:      KeySize,
	}
}

func (p Argon2Params) validate() error {
	if p.KeyLen != KeySize {
		return fmt.Errorf("key length must be %d bytes", KeySize)
	}
	if p.MemoryMB == 0 {
		return errors.New("memory parameter must be positive")
	}
	if p.Time == 0 {
		return errors.New("time parameter must be positive")
	}
	if p.Parallelism == 0 {
		return errors.New("parallelism must be positive")
	}
	return nil
}

// Salt is the per-vault Argon2id salt. It is not secret.
type Salt [SaltSize]byte

// KEK is a key-encryption key derived from the master password.
type KEK [KeySize]byte

// Wipe zeroes the key in place.
func (k *KEK) Wipe() {
	if k != nil {
		SecureZero(k[:])
	}
}

// SaltFromBytes copies b into a Salt, rejecting any other length.
func SaltFromBytes(b []byte) (Salt, error) {
	var s Salt
	if len(b) != SaltSize {
		return s, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrInvalidInput, SaltSize, len(b))
	}
	copy(s[:], b)
	return s, nil
}

// GenerateSalt returns a fresh random salt.
func GenerateSalt() (Salt, error) {
	var s Salt
	if _, err := rand.Read(s[:]); err != nil {
		return s, fmt.Errorf("generate salt: %w", err)
	}
	return s, nil
}

// DeriveKEK derives a KEK from password and salt using Argon2id with DefaultArgon2Params.
// The same (password, salt) pair always yields the same key.
func DeriveKEK(password string, salt Salt) (KEK, error) {
	return DeriveKEKWithParams(password, salt, DefaultArgon2Params())
}

// DeriveKEKWithParams is DeriveKEK with explicit cost parameters.
func DeriveKEKWithParams(password string, salt Salt, p Argon2Params) (KEK, error) {
	var kek KEK
	if password == "" {
		return kek, fmt.Errorf("%w: password is required", ErrKeyDerivation)
	}
	if err := p.validate(); err != nil {
		return kek, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	pw := []byte(password)
	defer SecureZero(pw)

	key := argon2.IDKey(pw, salt[:], p.Time, p.MemoryMB*1024, p.Parallelism, p.KeyLen)
	defer SecureZero(key)
	if len(key) != KeySize {
		return kek, fmt.Errorf("%w: derived key has unexpected length %d", ErrKeyDerivation, len(key))
	}
	copy(kek[:], key)
	return kek, nil
}
