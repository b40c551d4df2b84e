package sealstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testParams keeps Argon2 cheap in tests.
var testParams = Argon2Params{Memory: 8, Time: 1, Parallelism: 1}

func testSeed(id string) []byte {
	seed := make([]byte, 32)
	copy(seed, []byte(id))
	for i := len(id); i < 32; i++ {
		seed[i] = byte(i)
	}
	return seed
}

func TestDeriveStoreKey_Deterministic(t *testing.T) {
	salt, err := newKdfSalt()
	require.NoError(t, err)

	k1, err := deriveStoreKey([]byte("correct-horse"), salt, testParams)
	require.NoError(t, err)
	k2, err := deriveStoreKey([]byte("correct-horse"), salt, testParams)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := deriveStoreKey([]byte("wrong-horse"), salt, testParams)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestDeriveStoreKey_SaltChangesKey(t *testing.T) {
	s1, err := newKdfSalt()
	require.NoError(t, err)
	s2, err := newKdfSalt()
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)

	k1, err := deriveStoreKey([]byte("pw"), s1, testParams)
	require.NoError(t, err)
	k2, err := deriveStoreKey([]byte("pw"), s2, testParams)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestDeriveStoreKey_InvalidInputs(t *testing.T) {
	salt, err := newKdfSalt()
	require.NoError(t, err)

	_, err = deriveStoreKey(nil, salt, testParams)
	require.ErrorIs(t, err, ErrInput)

	_, err = deriveStoreKey([]byte("pw"), []byte("short"), testParams)
	require.ErrorIs(t, err, ErrKeyDerivation)

	_, err = deriveStoreKey([]byte("pw"), salt, Argon2Params{})
	require.ErrorIs(t, err, ErrKeyDerivation)
}

func TestStoreKeyFromSeed(t *testing.T) {
	k, err := storeKeyFromSeed(testSeed("raw"))
	require.NoError(t, err)
	require.Equal(t, testSeed("raw"), k[:])

	_, err = storeKeyFromSeed([]byte("too short"))
	require.ErrorIs(t, err, ErrInput)
}

func TestStaticKeyProvider(t *testing.T) {
	p := NewStaticKeyProvider(testSeed("kms"))
	k1, err := p.StoreKey()
	require.NoError(t, err)
	require.Equal(t, testSeed("kms"), k1)

	// The provider hands out copies.
	k1[0] ^= 0xff
	k2, err := p.StoreKey()
	require.NoError(t, err)
	require.Equal(t, testSeed("kms"), k2)

	_, err = NewStaticKeyProvider([]byte("short")).StoreKey()
	require.ErrorIs(t, err, ErrInput)
}

func TestWrapProfileKey_RoundTrip(t *testing.T) {
	sk, err := storeKeyFromSeed(testSeed("store"))
	require.NoError(t, err)

	master, err := generateProfileKey()
	require.NoError(t, err)
	require.Len(t, master, 32)

	wrapped, err := wrapProfileKey(sk, master)
	require.NoError(t, err)
	require.NotContains(t, string(wrapped), string(master))

	unwrapped, err := unwrapProfileKey(sk, wrapped)
	require.NoError(t, err)
	require.Equal(t, master, unwrapped)
}

func TestUnwrapProfileKey_WrongKey(t *testing.T) {
	sk1, err := storeKeyFromSeed(testSeed("one"))
	require.NoError(t, err)
	sk2, err := storeKeyFromSeed(testSeed("two"))
	require.NoError(t, err)

	master, err := generateProfileKey()
	require.NoError(t, err)
	wrapped, err := wrapProfileKey(sk1, master)
	require.NoError(t, err)

	_, err = unwrapProfileKey(sk2, wrapped)
	require.ErrorIs(t, err, ErrEncryption)
}

func TestUnwrapProfileKey_Tampered(t *testing.T) {
	sk, err := storeKeyFromSeed(testSeed("store"))
	require.NoError(t, err)
	master, err := generateProfileKey()
	require.NoError(t, err)
	wrapped, err := wrapProfileKey(sk, master)
	require.NoError(t, err)

	wrapped[len(wrapped)-1] ^= 0x01
	_, err = unwrapProfileKey(sk, wrapped)
	require.ErrorIs(t, err, ErrEncryption)
}
