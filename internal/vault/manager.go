package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

// Storage is the metadata store the manager drives. *store.Store implements it.
type Storage interface {
	IsInitialized(ctx context.Context) (bool, error)
	Initialize(ctx context.Context, meta store.VaultMeta, dek *krypto.SecureDEK) error
	OpenWithDEK(ctx context.Context, dek *krypto.SecureDEK) error
	LoadMeta(ctx context.Context) (store.VaultMeta, error)
	UpdateWrapping(ctx context.Context, salt krypto.Salt, wrapped krypto.EncryptedDek) error
	Handle() (*store.Handle, error)
	Close() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithKDFParams overrides the Argon2id cost. Only tests should lower it.
func WithKDFParams(p krypto.Argon2Params) Option {
	return func(m *Manager) { m.kdf = p }
}

// Manager owns the vault lifecycle and, while unlocked, the data encryption key.
// Mutating operations hold the exclusive lock for their full duration, including key
// derivation, so they serialize against each other.
type Manager struct {
	mu    sync.RWMutex
	state State
	dek   *krypto.SecureDEK

	store Storage
	kdf   krypto.Argon2Params
	log   *slog.Logger
}

// New returns a manager in the Uninitialized state. The store is not touched until the
// first operation.
func New(s Storage, opts ...Option) (*Manager, error) {
	if s == nil {
		return nil, errors.New("vault: storage is required")
	}
	m := &Manager{
		state: Uninitialized,
		store: s,
		kdf:   krypto.DefaultArgon2Params(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Initialize creates a new vault protected by password and leaves it unlocked.
func (m *Manager) Initialize(ctx context.Context, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.probeLocked(ctx); err != nil {
		return err
	}
	if m.state != Uninitialized {
		return ErrVaultAlreadyInitialized
	}

	salt, err := krypto.GenerateSalt()
	if err != nil {
		return err
	}
	dek, err := krypto.GenerateDEK()
	if err != nil {
		return err
	}

	wrapped, err := m.wrap(password, salt, dek)
	if err != nil {
		dek.Release()
		return err
	}

	if err := m.store.Initialize(ctx, store.NewVaultMeta(salt, wrapped), dek); err != nil {
		dek.Release()
		if errors.Is(err, ErrVaultAlreadyInitialized) {
			m.state = Locked
		}
		return fmt.Errorf("initialize vault: %w", err)
	}

	m.dek = dek
	m.state = Unlocked
	m.log.Info("vault initialized")
	return nil
}

// Unlock verifies password against the persisted wrapped key and opens storage.
// A wrong password and a corrupted wrapped key both yield ErrInvalidMasterPassword.
func (m *Manager) Unlock(ctx context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.probeLocked(ctx); err != nil {
		return err
	}
	switch m.state {
	case Uninitialized:
		return ErrVaultNotInitialized
	case Unlocked:
		return ErrVaultAlreadyUnlocked
	}

	dek, err := m.unwrapPersisted(ctx, password)
	if err != nil {
		if errors.Is(err, ErrInvalidMasterPassword) {
			m.log.Warn("unlock failed", "reason", "invalid master password")
		}
		return err
	}

	if err := m.store.OpenWithDEK(ctx, dek); err != nil {
		dek.Release()
		return fmt.Errorf("open storage: %w", err)
	}

	m.dek = dek
	m.state = Unlocked
	m.log.Info("vault unlocked")
	return nil
}

// Lock closes storage and wipes the data key. It is a no-op unless the vault is unlocked.
// The key is wiped and the state becomes Locked even when closing storage fails; that
// failure is still returned.
func (m *Manager) Lock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockLocked()
}

func (m *Manager) lockLocked() error {
	if m.state != Unlocked {
		return nil
	}

	closeErr := m.store.Close()
	m.dek.Release()
	m.dek = nil
	m.state = Locked
	m.log.Info("vault locked")

	if closeErr != nil {
		return fmt.Errorf("close storage: %w", closeErr)
	}
	return nil
}

// ChangeMasterPassword re-wraps the unchanged data key under a key derived from next and a
// fresh salt. current is checked against the persisted wrapped key, not the in-memory one.
func (m *Manager) ChangeMasterPassword(ctx context.Context, current, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Unlocked {
		return ErrVaultLocked
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	verified, err := m.unwrapPersisted(ctx, current)
	if err != nil {
		if errors.Is(err, ErrInvalidMasterPassword) {
			m.log.Warn("change password failed", "reason", "invalid master password")
		}
		return err
	}
	same := verified.Equal(m.dek)
	verified.Release()
	if !same {
		return fmt.Errorf("%w: in-memory data key does not match persisted key", ErrInvalidConfig)
	}

	salt, err := krypto.GenerateSalt()
	if err != nil {
		return err
	}
	wrapped, err := m.wrap(next, salt, m.dek)
	if err != nil {
		return err
	}

	if err := m.store.UpdateWrapping(ctx, salt, wrapped); err != nil {
		return fmt.Errorf("persist new wrapping: %w", err)
	}
	m.log.Info("master password changed")
	return nil
}

// Status reports the lifecycle state. When the cached state is Uninitialized but the store
// already holds a vault, the state is upgraded to Locked.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.mu.RLock()
	if m.state != Uninitialized {
		defer m.mu.RUnlock()
		return m.statusLocked(ctx)
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.probeLocked(ctx); err != nil {
		return Status{}, err
	}
	return m.statusLocked(ctx)
}

func (m *Manager) statusLocked(ctx context.Context) (Status, error) {
	st := Status{State: m.state, IsInitialized: m.state != Uninitialized}
	if !st.IsInitialized {
		return st, nil
	}

	meta, err := m.store.LoadMeta(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load vault metadata: %w", err)
	}
	createdAt, version := meta.CreatedAt, meta.Version
	st.CreatedAt = &createdAt
	st.Version = &version
	return st, nil
}

// Database returns the open storage handle. It fails with ErrVaultLocked unless unlocked.
func (m *Manager) Database() (*store.Handle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Unlocked {
		return nil, ErrVaultLocked
	}
	return m.store.Handle()
}

// IsUnlocked reports whether the vault is currently unlocked.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == Unlocked
}

// State returns the cached lifecycle state without probing storage.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Shutdown locks the vault for process exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.log.Info("shutting down vault manager")
	return m.Lock(ctx)
}

// probeLocked upgrades Uninitialized to Locked when the store already holds a vault.
// Callers hold the exclusive lock.
func (m *Manager) probeLocked(ctx context.Context) error {
	if m.state != Uninitialized {
		return nil
	}
	ok, err := m.store.IsInitialized(ctx)
	if err != nil {
		return fmt.Errorf("probe vault: %w", err)
	}
	if ok {
		m.state = Locked
	}
	return nil
}

// unwrapPersisted derives a KEK from password and the stored salt and unwraps the stored key.
func (m *Manager) unwrapPersisted(ctx context.Context, password string) (*krypto.SecureDEK, error) {
	meta, err := m.store.LoadMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vault metadata: %w", err)
	}
	if password == "" {
		return nil, ErrInvalidMasterPassword
	}

	kek, err := krypto.DeriveKEKWithParams(password, meta.Salt, m.kdf)
	if err != nil {
		return nil, err
	}
	defer kek.Wipe()

	dek, err := krypto.DecryptDEK(kek, meta.EncryptedDek)
	if err != nil {
		return nil, ErrInvalidMasterPassword
	}
	return dek, nil
}

func (m *Manager) wrap(password string, salt krypto.Salt, dek *krypto.SecureDEK) (krypto.EncryptedDek, error) {
	kek, err := krypto.DeriveKEKWithParams(password, salt, m.kdf)
	if err != nil {
		return krypto.EncryptedDek{}, err
	}
	defer kek.Wipe()
	return krypto.EncryptDEK(kek, dek)
}

func validatePassword(pw string) error {
	if err := auth.ValidateMasterPassword(pw); err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordValidation, err)
	}
	return nil
}
