package sealstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlindIndex_Deterministic(t *testing.T) {
	pc := testCipher(t, "v1")

	t1 := pc.blindIndex("cred", "schema", "did:example:1", DefaultIndexWidth, nil)
	t2 := pc.blindIndex("cred", "schema", "did:example:1", DefaultIndexWidth, nil)
	require.Equal(t, t1, t2, "equality search requires identical tokens")
	require.Len(t, t1, DefaultIndexWidth)
}

func TestBlindIndex_TupleBinding(t *testing.T) {
	pc := testCipher(t, "v1")
	base := pc.blindIndex("cred", "schema", "v", DefaultIndexWidth, nil)

	require.NotEqual(t, base, pc.blindIndex("other", "schema", "v", DefaultIndexWidth, nil),
		"token must bind the category")
	require.NotEqual(t, base, pc.blindIndex("cred", "issuer", "v", DefaultIndexWidth, nil),
		"token must bind the tag name")
	require.NotEqual(t, base, pc.blindIndex("cred", "schema", "w", DefaultIndexWidth, nil),
		"token must bind the tag value")
}

func TestBlindIndex_KeySeparation(t *testing.T) {
	a := testCipher(t, "a")
	b := testCipher(t, "b")
	require.NotEqual(t,
		a.blindIndex("cred", "schema", "v", DefaultIndexWidth, nil),
		b.blindIndex("cred", "schema", "v", DefaultIndexWidth, nil))
}

func TestBlindIndex_Width(t *testing.T) {
	pc := testCipher(t, "v1")
	full := pc.blindIndex("c", "n", "v", MaxIndexWidth, nil)
	short := pc.blindIndex("c", "n", "v", MinIndexWidth, nil)
	require.Len(t, full, MaxIndexWidth)
	require.Len(t, short, MinIndexWidth)
	require.Equal(t, full[:MinIndexWidth], short, "width truncates one keyed hash")
}

func TestBlindIndex_Normalizer(t *testing.T) {
	pc := testCipher(t, "v1")
	folded := pc.blindIndex("c", "email", " Alice@Example.COM ", DefaultIndexWidth, NormalizeFold)
	require.Equal(t, pc.blindIndex("c", "email", "alice@example.com", DefaultIndexWidth, nil), folded)
	require.NotEqual(t, pc.blindIndex("c", "email", " Alice@Example.COM ", DefaultIndexWidth, nil), folded)
}
