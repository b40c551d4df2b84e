package sealstore

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeyEntry(t *testing.T) {
	tests := []struct {
		alg       KeyAlg
		publicLen int
		secretLen int
	}{
		{KeyAlgEd25519, ed25519.PublicKeySize, ed25519.PrivateKeySize},
		{KeyAlgX25519, 32, 32},
		{KeyAlgChaCha20, 0, 32},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			k, err := GenerateKeyEntry(tt.alg)
			require.NoError(t, err)
			require.Equal(t, tt.alg, k.Alg)
			require.Len(t, k.Public, tt.publicLen)
			require.Len(t, k.Secret, tt.secretLen)

			other, err := GenerateKeyEntry(tt.alg)
			require.NoError(t, err)
			require.NotEqual(t, k.Secret, other.Secret)
		})
	}
}

func TestGenerateKeyEntryUnknownAlg(t *testing.T) {
	_, err := GenerateKeyEntry("rsa4096")
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestImportKeyEntryEd25519(t *testing.T) {
	seed := testSeed("ed25519-import")

	fromSeed, err := ImportKeyEntry(KeyAlgEd25519, seed)
	require.NoError(t, err)
	require.Len(t, fromSeed.Secret, ed25519.PrivateKeySize)

	full := ed25519.NewKeyFromSeed(seed)
	fromFull, err := ImportKeyEntry(KeyAlgEd25519, full)
	require.NoError(t, err)
	require.Equal(t, fromSeed.Public, fromFull.Public)
	require.Equal(t, fromSeed.Secret, fromFull.Secret)

	_, err = ImportKeyEntry(KeyAlgEd25519, seed[:16])
	require.ErrorIs(t, err, ErrInput)
}

func TestImportKeyEntryX25519(t *testing.T) {
	k, err := ImportKeyEntry(KeyAlgX25519, testSeed("x25519-import"))
	require.NoError(t, err)
	require.Len(t, k.Public, 32)

	again, err := ImportKeyEntry(KeyAlgX25519, testSeed("x25519-import"))
	require.NoError(t, err)
	require.Equal(t, k.Public, again.Public)

	_, err = ImportKeyEntry(KeyAlgX25519, []byte("short"))
	require.ErrorIs(t, err, ErrInput)
}

func TestImportKeyEntrySymmetric(t *testing.T) {
	k, err := ImportKeyEntry(KeyAlgChaCha20, testSeed("sym"))
	require.NoError(t, err)
	require.Empty(t, k.Public)

	_, err = ImportKeyEntry(KeyAlgChaCha20, []byte("short"))
	require.ErrorIs(t, err, ErrInput)
}

func TestKeyEntryThumbprint(t *testing.T) {
	a, err := ImportKeyEntry(KeyAlgEd25519, testSeed("thumb"))
	require.NoError(t, err)
	b, err := ImportKeyEntry(KeyAlgEd25519, testSeed("thumb"))
	require.NoError(t, err)
	require.Equal(t, a.Thumbprint(), b.Thumbprint())
	require.NotEmpty(t, a.Thumbprint())

	// algorithm is bound into the fingerprint
	x, err := ImportKeyEntry(KeyAlgX25519, testSeed("thumb"))
	require.NoError(t, err)
	require.NotEqual(t, a.Thumbprint(), x.Thumbprint())

	c, err := ImportKeyEntry(KeyAlgEd25519, testSeed("other"))
	require.NoError(t, err)
	require.NotEqual(t, a.Thumbprint(), c.Thumbprint())
}
