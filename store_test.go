package sealstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testStore opens an in-memory store keyed with a raw seed. In-memory
// stores run on a single pooled connection, so tests close each session
// before opening the next.
func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithRawKey(testSeed("store-key"))}, opts...)
	st, err := Open("sqlite://:memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testFileURI(t *testing.T) string {
	t.Helper()
	return "sqlite://" + filepath.Join(t.TempDir(), "store.db")
}

func TestOpenProvisionsDefaultProfile(t *testing.T) {
	st := testStore(t)
	require.Equal(t, "default", st.DefaultProfile())
	require.Equal(t, []string{"default"}, st.ListProfiles())
}

func TestOpenNamedDefaultProfile(t *testing.T) {
	st := testStore(t, WithProfile("wallet"))
	require.Equal(t, "wallet", st.DefaultProfile())
}

func TestOpenRequiresKeyMaterial(t *testing.T) {
	_, err := Open("sqlite://:memory:")
	require.ErrorIs(t, err, ErrInput)

	_, err = Open("sqlite://:memory:",
		WithRawKey(testSeed("a")), WithPassphrase("also"))
	require.ErrorIs(t, err, ErrInput)
}

func TestOpenUnsupportedScheme(t *testing.T) {
	_, err := Open("redis://localhost", WithRawKey(testSeed("a")))
	require.ErrorIs(t, err, ErrInput)
}

func TestReopenWithPassphrase(t *testing.T) {
	ctx := context.Background()
	uri := testFileURI(t)

	st, err := Open(uri, WithPassphrase("correct-horse"), WithArgon2Params(testParams))
	require.NoError(t, err)
	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, &Entry{Category: "item", Name: "n1", Value: []byte("v1")}))
	require.NoError(t, sess.Close())
	require.NoError(t, st.Close())

	st, err = Open(uri, WithPassphrase("correct-horse"))
	require.NoError(t, err)
	defer st.Close()
	sess, err = st.Session(ctx, "")
	require.NoError(t, err)
	defer sess.Close()
	got, err := sess.Fetch(ctx, "item", "n1", false)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Value)
}

func TestReopenWrongPassphrase(t *testing.T) {
	uri := testFileURI(t)

	st, err := Open(uri, WithPassphrase("correct-horse"), WithArgon2Params(testParams))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = Open(uri, WithPassphrase("battery-staple"))
	require.ErrorIs(t, err, ErrEncryption)
}

func TestReopenMismatchedKeySource(t *testing.T) {
	uri := testFileURI(t)

	st, err := Open(uri, WithPassphrase("correct-horse"), WithArgon2Params(testParams))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// a raw key cannot open a passphrase-derived store
	_, err = Open(uri, WithRawKey(testSeed("raw")))
	require.ErrorIs(t, err, ErrInput)
}

func TestCreateAndRemoveProfile(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	name, err := st.CreateProfile(ctx, "tenant-a")
	require.NoError(t, err)
	require.Equal(t, "tenant-a", name)
	require.ElementsMatch(t, []string{"default", "tenant-a"}, st.ListProfiles())

	_, err = st.CreateProfile(ctx, "tenant-a")
	require.ErrorIs(t, err, ErrDuplicate)

	// empty name draws a random one
	name, err = st.CreateProfile(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, name)

	require.NoError(t, st.RemoveProfile(ctx, name))
	require.ErrorIs(t, st.RemoveProfile(ctx, name), ErrNotFound)
	require.ErrorIs(t, st.RemoveProfile(ctx, "default"), ErrInput)

	_, err = st.Session(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProfileIsolation(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	_, err := st.CreateProfile(ctx, "other")
	require.NoError(t, err)

	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, &Entry{Category: "item", Name: "n1", Value: []byte("v1")}))
	require.NoError(t, sess.Close())

	// the same (category, name) does not exist in the other profile, and
	// inserting it there does not collide
	other, err := st.Session(ctx, "other")
	require.NoError(t, err)
	_, err = other.Fetch(ctx, "item", "n1", false)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, other.Insert(ctx, &Entry{Category: "item", Name: "n1", Value: []byte("v2")}))
	require.NoError(t, other.Close())

	sess, err = st.Session(ctx, "")
	require.NoError(t, err)
	defer sess.Close()
	got, err := sess.Fetch(ctx, "item", "n1", false)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Value)
}

func TestSetDefaultProfile(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	_, err := st.CreateProfile(ctx, "primary")
	require.NoError(t, err)

	require.ErrorIs(t, st.SetDefaultProfile(ctx, "missing"), ErrNotFound)
	require.NoError(t, st.SetDefaultProfile(ctx, "primary"))
	require.Equal(t, "primary", st.DefaultProfile())

	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	defer sess.Close()
	require.Equal(t, "primary", sess.Profile())
}

func TestRekey(t *testing.T) {
	ctx := context.Background()
	uri := testFileURI(t)

	st, err := Open(uri, WithPassphrase("old-pass"), WithArgon2Params(testParams))
	require.NoError(t, err)
	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, &Entry{Category: "item", Name: "n1", Value: []byte("v1")}))
	require.NoError(t, sess.Close())

	require.NoError(t, st.Rekey(ctx, WithPassphrase("new-pass"), WithArgon2Params(testParams)))

	// the open store keeps working across the rotation
	sess, err = st.Session(ctx, "")
	require.NoError(t, err)
	got, err := sess.Fetch(ctx, "item", "n1", false)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Value)
	require.NoError(t, sess.Close())

	// profiles created after the rotation wrap under the new key
	_, err = st.CreateProfile(ctx, "post-rotate")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = Open(uri, WithPassphrase("old-pass"))
	require.ErrorIs(t, err, ErrEncryption)

	st, err = Open(uri, WithPassphrase("new-pass"))
	require.NoError(t, err)
	defer st.Close()
	require.ElementsMatch(t, []string{"default", "post-rotate"}, st.ListProfiles())
	sess, err = st.Session(ctx, "")
	require.NoError(t, err)
	defer sess.Close()
	got, err = sess.Fetch(ctx, "item", "n1", false)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got.Value)
}

func TestRekeyConcurrentCreateProfile(t *testing.T) {
	ctx := context.Background()
	uri := testFileURI(t)

	st, err := Open(uri, WithRawKey(testSeed("rotate-0")))
	require.NoError(t, err)

	// Rotate the store key repeatedly while profiles are being created.
	// Every profile row must end up wrapped under whatever the store key
	// was at its insert, or the store stops opening.
	rekeyErr := make(chan error, 1)
	go func() {
		for i := 1; i <= 5; i++ {
			if err := st.Rekey(ctx, WithRawKey(testSeed(fmt.Sprintf("rotate-%d", i)))); err != nil {
				rekeyErr <- err
				return
			}
		}
		rekeyErr <- nil
	}()
	for i := 0; i < 10; i++ {
		_, err := st.CreateProfile(ctx, fmt.Sprintf("tenant-%d", i))
		require.NoError(t, err)
	}
	require.NoError(t, <-rekeyErr)
	require.NoError(t, st.Close())

	st, err = Open(uri, WithRawKey(testSeed("rotate-5")))
	require.NoError(t, err)
	defer st.Close()
	require.Len(t, st.ListProfiles(), 11)
}

func TestRekeyToRawKey(t *testing.T) {
	ctx := context.Background()
	uri := testFileURI(t)

	st, err := Open(uri, WithPassphrase("old-pass"), WithArgon2Params(testParams))
	require.NoError(t, err)
	require.NoError(t, st.Rekey(ctx, WithRawKey(testSeed("rotated"))))
	require.NoError(t, st.Close())

	st, err = Open(uri, WithRawKey(testSeed("rotated")))
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestPruneExpired(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	now := time.Now()
	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, &Entry{Category: "item", Name: "keep", Value: []byte("v")}))
	require.NoError(t, sess.Insert(ctx, &Entry{
		Category: "item", Name: "gone", Value: []byte("v"),
		Expiry: now.Add(time.Hour),
	}))
	require.NoError(t, sess.Close())

	// jump past the expiry without sleeping
	defer func(orig func() int64) { nowUnix = orig }(nowUnix)
	nowUnix = func() int64 { return now.Add(2 * time.Hour).Unix() }

	n, err := st.PruneExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = st.PruneExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	sess, err = st.Session(ctx, "")
	require.NoError(t, err)
	defer sess.Close()
	_, err = sess.Fetch(ctx, "item", "keep", false)
	require.NoError(t, err)
}

func TestStoreClosed(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, err := st.Session(ctx, "")
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = st.CreateProfile(ctx, "x")
	require.ErrorIs(t, err, ErrStoreClosed)
	require.ErrorIs(t, st.Rekey(ctx, WithRawKey(testSeed("k"))), ErrStoreClosed)
	_, err = st.PruneExpired(ctx)
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = st.Scan(ctx, "", "item", nil, -1, 0)
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestAcquireTimeout(t *testing.T) {
	ctx := context.Background()
	// the in-memory pool holds a single connection
	st := testStore(t, WithAcquireTimeout(50*time.Millisecond))

	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	defer sess.Close()

	_, err = st.Session(ctx, "")
	require.ErrorIs(t, err, ErrBackend)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	sess, err := st.Session(ctx, "")
	require.NoError(t, err)
	for _, e := range []*Entry{
		{Category: "credential", Name: "c1", Value: []byte("v1"), Tags: []Tag{{Name: "kind", Value: "a"}}},
		{Category: "credential", Name: "c2", Value: []byte("v2"), Tags: []Tag{{Name: "kind", Value: "b"}}},
		{Category: "credential", Name: "c3", Value: []byte("v3"), Tags: []Tag{{Name: "kind", Value: "a"}}},
		{Category: "other", Name: "o1", Value: []byte("v4")},
	} {
		require.NoError(t, sess.Insert(ctx, e))
	}
	require.NoError(t, sess.Close())

	scan, err := st.Scan(ctx, "", "credential", nil, -1, 0)
	require.NoError(t, err)
	all, err := scan.FetchAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	// insertion order
	require.Equal(t, "c1", all[0].Name)
	require.Equal(t, "c3", all[2].Name)

	scan, err = st.Scan(ctx, "", "credential", Eq("kind", "a"), -1, 0)
	require.NoError(t, err)
	all, err = scan.FetchAll()
	require.NoError(t, err)
	require.Len(t, all, 2)

	scan, err = st.Scan(ctx, "", "credential", nil, 1, 1)
	require.NoError(t, err)
	all, err = scan.FetchAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "c2", all[0].Name)

	scan, err = st.Scan(ctx, "", "credential", nil, -1, 0)
	require.NoError(t, err)
	require.True(t, scan.Next())
	require.NotNil(t, scan.Entry())
	require.NoError(t, scan.Close())
	require.NoError(t, scan.Close())

	_, err = st.Scan(ctx, "missing", "credential", nil, -1, 0)
	require.ErrorIs(t, err, ErrNotFound)
}
