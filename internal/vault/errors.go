package vault

import (
	"errors"

	"github.com/Hussein-Mazeh/vaultcore/store"
)

var (
	// ErrPasswordValidation is returned when a supplied master password violates the policy.
	ErrPasswordValidation = errors.New("password validation failed")
	// ErrVaultAlreadyInitialized is returned by Initialize on an existing vault.
	ErrVaultAlreadyInitialized = store.ErrVaultAlreadyInitialized
	// ErrVaultNotInitialized is returned when no vault exists yet.
	ErrVaultNotInitialized = store.ErrVaultNotInitialized
	// ErrVaultAlreadyUnlocked is returned by Unlock when the vault is already unlocked.
	ErrVaultAlreadyUnlocked = errors.New("vault already unlocked")
	// ErrVaultLocked is returned by operations that need an unlocked vault.
	ErrVaultLocked = errors.New("vault is locked")
	// ErrInvalidMasterPassword covers both a wrong password and a corrupted wrapped key.
	ErrInvalidMasterPassword = errors.New("invalid master password")
	// ErrStorage wraps backing-store failures.
	ErrStorage = store.ErrStorage
	// ErrInvalidConfig marks malformed persisted metadata.
	ErrInvalidConfig = store.ErrInvalidConfig
)
