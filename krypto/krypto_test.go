package krypto

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastParams keeps the tests quick; production code always uses DefaultArgon2Params.
var fastParams = Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: KeySize}

func testKEK(t *testing.T, password string) (KEK, Salt) {
	t.Helper()
	salt, err := GenerateSalt()
	require.NoError(t, err)
	kek, err := DeriveKEKWithParams(password, salt, fastParams)
	require.NoError(t, err)
	return kek, salt
}

func TestGenerateSaltIsRandom(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a[:], SaltSize)
}

func TestDefaultArgon2Params(t *testing.T) {
	p := DefaultArgon2Params()
	assert.Equal(t, uint32(64), p.MemoryMB)
	assert.Equal(t, uint32(3), p.Time)
	assert.Equal(t, uint8(1), p.Parallelism)
	assert.Equal(t, uint32(32), p.KeyLen)
}

func TestDeriveKEKDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	k1, err := DeriveKEK("test_password_123", salt)
	require.NoError(t, err)
	k2, err := DeriveKEK("test_password_123", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	other, err := DeriveKEK("test_password_124", salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, other)
}

func TestDeriveKEKRejectsEmptyPassword(t *testing.T) {
	var salt Salt
	_, err := DeriveKEK("", salt)
	require.ErrorIs(t, err, ErrKeyDerivation)
}

func TestDeriveKEKRejectsBadParams(t *testing.T) {
	var salt Salt
	_, err := DeriveKEKWithParams("password", salt, Argon2Params{MemoryMB: 0, Time: 1, Parallelism: 1, KeyLen: KeySize})
	require.ErrorIs(t, err, ErrKeyDerivation)
	_, err = DeriveKEKWithParams("password", salt, Argon2Params{MemoryMB: 1, Time: 1, Parallelism: 1, KeyLen: 16})
	require.ErrorIs(t, err, ErrKeyDerivation)
}

func TestSaltFromBytes(t *testing.T) {
	_, err := SaltFromBytes(make([]byte, 12))
	require.ErrorIs(t, err, ErrInvalidInput)

	raw := bytes.Repeat([]byte{7}, SaltSize)
	s, err := SaltFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, s[:])
}

func TestEncryptDecryptDEKRoundTrip(t *testing.T) {
	kek, _ := testKEK(t, "test_password_123")
	dek, err := GenerateDEK()
	require.NoError(t, err)
	defer dek.Release()

	wrapped, err := EncryptDEK(kek, dek)
	require.NoError(t, err)
	assert.Len(t, wrapped.Ciphertext, KeySize+TagSize)

	got, err := DecryptDEK(kek, wrapped)
	require.NoError(t, err)
	defer got.Release()
	assert.True(t, dek.Equal(got))
}

func TestEncryptDEKUsesFreshNonce(t *testing.T) {
	kek, _ := testKEK(t, "test_password_123")
	dek, err := GenerateDEK()
	require.NoError(t, err)
	defer dek.Release()

	a, err := EncryptDEK(kek, dek)
	require.NoError(t, err)
	b, err := EncryptDEK(kek, dek)
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestDecryptDEKWrongKEK(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	kek1, err := DeriveKEKWithParams("password1", salt, fastParams)
	require.NoError(t, err)
	kek2, err := DeriveKEKWithParams("password2", salt, fastParams)
	require.NoError(t, err)

	dek, err := GenerateDEK()
	require.NoError(t, err)
	defer dek.Release()

	wrapped, err := EncryptDEK(kek1, dek)
	require.NoError(t, err)

	_, err = DecryptDEK(kek2, wrapped)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptDEKDetectsEveryBitFlip(t *testing.T) {
	kek, _ := testKEK(t, "test_password_123")
	dek, err := GenerateDEK()
	require.NoError(t, err)
	defer dek.Release()

	wrapped, err := EncryptDEK(kek, dek)
	require.NoError(t, err)
	linear := wrapped.Bytes()

	for i := range linear {
		for bit := 0; bit < 8; bit++ {
			tampered := append([]byte(nil), linear...)
			tampered[i] ^= 1 << bit
			parsed, err := ParseEncryptedDek(tampered)
			require.NoError(t, err)
			_, err = DecryptDEK(kek, parsed)
			require.ErrorIsf(t, err, ErrDecryption, "byte %d bit %d", i, bit)
		}
	}
}

func TestDecryptDEKTruncated(t *testing.T) {
	kek, _ := testKEK(t, "test_password_123")
	dek, err := GenerateDEK()
	require.NoError(t, err)
	defer dek.Release()

	wrapped, err := EncryptDEK(kek, dek)
	require.NoError(t, err)
	wrapped.Ciphertext = wrapped.Ciphertext[:len(wrapped.Ciphertext)-1]
	_, err = DecryptDEK(kek, wrapped)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestEncryptedDekSerialization(t *testing.T) {
	kek, _ := testKEK(t, "test_password_123")
	dek, err := GenerateDEK()
	require.NoError(t, err)
	defer dek.Release()

	wrapped, err := EncryptDEK(kek, dek)
	require.NoError(t, err)

	fromBytes, err := ParseEncryptedDek(wrapped.Bytes())
	require.NoError(t, err)
	assert.Equal(t, wrapped.Nonce, fromBytes.Nonce)
	assert.Equal(t, wrapped.Ciphertext, fromBytes.Ciphertext)

	fromHex, err := ParseEncryptedDekHex(wrapped.Hex())
	require.NoError(t, err)
	assert.Equal(t, wrapped.Nonce, fromHex.Nonce)
	assert.Equal(t, wrapped.Ciphertext, fromHex.Ciphertext)
}

func TestParseEncryptedDekRejectsShortAndBadHex(t *testing.T) {
	_, err := ParseEncryptedDek(make([]byte, NonceSize+KeySize+TagSize-1))
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = ParseEncryptedDekHex("zz")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSecureZero(t *testing.T) {
	buf := []byte("super secret material")
	SecureZero(buf)
	assert.Equal(t, make([]byte, len(buf)), buf)
	SecureZero(nil)
}

func TestNewSecureDEKWipesSource(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, KeySize)
	dek, err := NewSecureDEK(raw)
	require.NoError(t, err)
	defer dek.Release()
	assert.Equal(t, make([]byte, KeySize), raw)

	err = dek.With(func(key []byte) error {
		assert.Equal(t, bytes.Repeat([]byte{0xAB}, KeySize), key)
		return nil
	})
	require.NoError(t, err)
}

func TestNewSecureDEKRejectsWrongSize(t *testing.T) {
	_, err := NewSecureDEK(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSecureDEKReleaseIsIdempotent(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)
	assert.False(t, dek.Released())

	dek.Release()
	dek.Release()
	assert.True(t, dek.Released())

	err = dek.With(func([]byte) error { return nil })
	require.ErrorIs(t, err, ErrDEKReleased)
	_, err = dek.Clone()
	require.ErrorIs(t, err, ErrDEKReleased)
}

func TestSecureDEKCloneIsIndependent(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)
	dup, err := dek.Clone()
	require.NoError(t, err)
	defer dup.Release()

	assert.True(t, dek.Equal(dup))
	dek.Release()
	assert.False(t, dup.Released())
	require.NoError(t, dup.With(func(key []byte) error {
		assert.Len(t, key, KeySize)
		return nil
	}))
}

func TestDeriveSubkey(t *testing.T) {
	key := bytes.Repeat([]byte{1}, KeySize)
	a, err := DeriveSubkey(key, []byte("salt-a"), []byte("info"), 32)
	require.NoError(t, err)
	again, err := DeriveSubkey(key, []byte("salt-a"), []byte("info"), 32)
	require.NoError(t, err)
	b, err := DeriveSubkey(key, []byte("salt-b"), []byte("info"), 32)
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)

	_, err = DeriveSubkey(key, nil, nil, 0)
	require.Error(t, err)
	_, err = DeriveSubkey(nil, nil, nil, 32)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestAESGCMRoundTripWithAAD(t *testing.T) {
	key := bytes.Repeat([]byte{9}, KeySize)
	nonce, ct, err := EncryptAESGCM(key, []byte("hello"), []byte("aad"))
	require.NoError(t, err)

	pt, err := DecryptAESGCM(key, nonce, ct, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)

	_, err = DecryptAESGCM(key, nonce, ct, []byte("other"))
	require.ErrorIs(t, err, ErrDecryption)

	_, _, err = EncryptAESGCM(key[:16], []byte("hello"), nil)
	require.ErrorIs(t, err, ErrEncryption)
}

func TestSecureDEKEqualBothDirectionsConcurrently(t *testing.T) {
	a, err := GenerateDEK()
	require.NoError(t, err)
	defer a.Release()
	b, err := a.Clone()
	require.NoError(t, err)
	defer b.Release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		compare := func(x, y *SecureDEK) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.True(t, x.Equal(y))
			}
		}
		wg.Add(2)
		go compare(a, b)
		go compare(b, a)
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Equal deadlocked when compared in both directions")
	}
}
