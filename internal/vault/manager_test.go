package vault

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/vaultcore/krypto"
	"github.com/Hussein-Mazeh/vaultcore/store"
)

var fastParams = krypto.Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: krypto.KeySize}

func newTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.db")
	m, err := New(newTestStore(t, path), WithKDFParams(fastParams))
	require.NoError(t, err)
	return m, path
}

func requireStatus(t *testing.T, m *Manager, state State, initialized bool) Status {
	t.Helper()
	st, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state, st.State)
	assert.Equal(t, initialized, st.IsInitialized)
	return st
}

func TestEndToEndLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	requireStatus(t, m, Uninitialized, false)

	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	st := requireStatus(t, m, Unlocked, true)
	require.NotNil(t, st.CreatedAt)
	require.NotNil(t, st.Version)
	assert.Equal(t, store.CurrentVersion, *st.Version)

	require.NoError(t, m.Lock(ctx))
	requireStatus(t, m, Locked, true)

	err := m.Unlock(ctx, "wrong")
	require.ErrorIs(t, err, ErrInvalidMasterPassword)
	requireStatus(t, m, Locked, true)

	require.NoError(t, m.Unlock(ctx, "CorrectHorse9"))
	requireStatus(t, m, Unlocked, true)
}

func TestInitializeValidatesPassword(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	for _, pw := range []string{"", "short"} {
		err := m.Initialize(ctx, pw)
		require.ErrorIs(t, err, ErrPasswordValidation)
	}
	requireStatus(t, m, Uninitialized, false)
}

func TestInitializeTwice(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	err := m.Initialize(ctx, "AnotherPass1")
	require.ErrorIs(t, err, ErrVaultAlreadyInitialized)
	requireStatus(t, m, Unlocked, true)

	require.NoError(t, m.Lock(ctx))
	require.ErrorIs(t, m.Initialize(ctx, "AnotherPass1"), ErrVaultAlreadyInitialized)
	requireStatus(t, m, Locked, true)
}

func TestInitializeOnExistingVaultAfterRestart(t *testing.T) {
	ctx := context.Background()
	m, path := newTestManager(t)
	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	require.NoError(t, m.Shutdown(ctx))

	restarted, err := New(newTestStore(t, path), WithKDFParams(fastParams))
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, restarted.State())

	require.ErrorIs(t, restarted.Initialize(ctx, "AnotherPass1"), ErrVaultAlreadyInitialized)
	assert.Equal(t, Locked, restarted.State())
}

func TestStatusUpgradesAfterRestart(t *testing.T) {
	ctx := context.Background()
	m, path := newTestManager(t)
	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	require.NoError(t, m.Lock(ctx))

	restarted, err := New(newTestStore(t, path), WithKDFParams(fastParams))
	require.NoError(t, err)
	requireStatus(t, restarted, Locked, true)
	require.NoError(t, restarted.Unlock(ctx, "CorrectHorse9"))
	assert.True(t, restarted.IsUnlocked())
}

func TestUnlockErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.ErrorIs(t, m.Unlock(ctx, "CorrectHorse9"), ErrVaultNotInitialized)

	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	require.ErrorIs(t, m.Unlock(ctx, "CorrectHorse9"), ErrVaultAlreadyUnlocked)

	require.NoError(t, m.Lock(ctx))
	require.ErrorIs(t, m.Unlock(ctx, ""), ErrInvalidMasterPassword)
	assert.Equal(t, Locked, m.State())
}

func TestUnlockRejectsTamperedKey(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))

	meta, err := m.store.LoadMeta(ctx)
	require.NoError(t, err)
	tampered := meta.EncryptedDek.Bytes()
	tampered[20] ^= 0x01

	h, err := m.Database()
	require.NoError(t, err)
	_, err = h.DB().ExecContext(ctx, `UPDATE vault_meta SET encrypted_dek = ? WHERE id = 1`, tampered)
	require.NoError(t, err)
	require.NoError(t, m.Lock(ctx))

	err = m.Unlock(ctx, "CorrectHorse9")
	require.ErrorIs(t, err, ErrInvalidMasterPassword)
	assert.Equal(t, Locked, m.State())
}

func TestLockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.NoError(t, m.Lock(ctx))
	assert.Equal(t, Uninitialized, m.State())

	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	require.NoError(t, m.Lock(ctx))
	require.NoError(t, m.Lock(ctx))
	assert.Equal(t, Locked, m.State())

	_, err := m.Database()
	require.ErrorIs(t, err, ErrVaultLocked)
}

func TestLockWipesKey(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))

	m.mu.RLock()
	dek := m.dek
	m.mu.RUnlock()
	require.False(t, dek.Released())

	require.NoError(t, m.Lock(ctx))
	assert.True(t, dek.Released())
	assert.Nil(t, m.dek)
}

func TestChangeMasterPassword(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	require.ErrorIs(t, m.ChangeMasterPassword(ctx, "CorrectHorse9", "BatteryStaple7"), ErrVaultLocked)

	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))
	h, err := m.Database()
	require.NoError(t, err)
	sealed, err := h.SealField([]byte("record secret"))
	require.NoError(t, err)
	before, err := m.store.LoadMeta(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, m.ChangeMasterPassword(ctx, "CorrectHorse9", "short"), ErrPasswordValidation)
	require.ErrorIs(t, m.ChangeMasterPassword(ctx, "WrongHorse9", "BatteryStaple7"), ErrInvalidMasterPassword)
	assert.True(t, m.IsUnlocked())

	require.NoError(t, m.ChangeMasterPassword(ctx, "CorrectHorse9", "BatteryStaple7"))
	assert.True(t, m.IsUnlocked())

	after, err := m.store.LoadMeta(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.Salt, after.Salt)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)

	require.NoError(t, m.Lock(ctx))
	require.ErrorIs(t, m.Unlock(ctx, "CorrectHorse9"), ErrInvalidMasterPassword)
	require.NoError(t, m.Unlock(ctx, "BatteryStaple7"))

	h, err = m.Database()
	require.NoError(t, err)
	plain, err := h.OpenField(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("record secret"), plain)
}

func TestConcurrentInitialize(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Initialize(ctx, "CorrectHorse9")
		}(i)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrVaultAlreadyInitialized):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
	assert.True(t, m.IsUnlocked())
}

func TestConcurrentLockAndUnlock(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Lock(ctx))
		}()
		go func() {
			defer wg.Done()
			err := m.Unlock(ctx, "CorrectHorse9")
			if err != nil {
				assert.ErrorIs(t, err, ErrVaultAlreadyUnlocked)
			}
		}()
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, m.state == Unlocked, m.dek != nil)
}

// failingStore wraps a real store and fails Close on demand.
type failingStore struct {
	*store.Store
	closeErr error
}

func (f *failingStore) Close() error {
	err := f.Store.Close()
	if f.closeErr != nil {
		return f.closeErr
	}
	return err
}

func TestLockWipesKeyWhenCloseFails(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Store: newTestStore(t, filepath.Join(t.TempDir(), "vault.db"))}
	m, err := New(fs, WithKDFParams(fastParams))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx, "CorrectHorse9"))

	m.mu.RLock()
	dek := m.dek
	m.mu.RUnlock()

	fs.closeErr = errors.New("disk on fire")
	err = m.Lock(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.True(t, dek.Released())
	assert.Equal(t, Locked, m.State())
}

func TestNewRequiresStorage(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
