// Package sealstore is an encrypted, tag-searchable key-value store over
// pluggable SQL backends (embedded SQLite or PostgreSQL).
//
// Entries are named records grouped under categories, each carrying a set of
// searchable tags. Everything that leaves the process is encrypted: entry
// categories, names, values, and tags are sealed with XChaCha20-Poly1305
// under a per-profile key, which is itself wrapped (envelope-encrypted) by a
// store key derived from a passphrase (Argon2id) or supplied raw. The
// database never sees plaintext, yet equality queries on tags remain
// possible via deterministic blind indexes (HMAC-SHA256 tokens).
//
// # Opening a store
//
//	store, err := sealstore.Open("sqlite://wallet.db",
//	    sealstore.WithPassphrase("correct-horse"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Sessions and transactions
//
// All reads and writes go through a Session bound to one profile and one
// backend connection. Session runs each mutation in its own short
// transaction; Transaction buffers mutations until Commit and rolls back on
// Close if Commit was never called:
//
//	txn, err := store.Transaction(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer txn.Close()
//
//	err = txn.Insert(ctx, &sealstore.Entry{
//	    Category: "credential",
//	    Name:     "1",
//	    Value:    []byte(`{"id": "..."}`),
//	    Tags: []sealstore.Tag{
//	        {Name: "schema", Value: "did:example:1"}, // blind-indexed
//	        {Name: "~rank", Value: "2"},              // plaintext
//	    },
//	})
//	...
//	err = txn.Commit(ctx)
//
// # Tags and filters
//
// Tag names beginning with "~" mark plaintext tags: they are stored
// unencrypted and therefore support ordering predicates (Gt, Lt, ...). All
// other tags are blind-indexed: only a keyed one-way token is stored, so
// they support equality and membership predicates only. Attempting an
// ordering predicate on a blind-indexed tag fails with ErrUnsupportedQuery.
//
//	entries, err := txn.FetchAll(ctx, "credential",
//	    sealstore.And(
//	        sealstore.Eq("schema", "did:example:1"),
//	        sealstore.Gt("~rank", "1"),
//	    ), -1, 0)
//
// # Profiles
//
// One physical store can hold multiple profiles: independent encryption
// domains with their own keys. Compromising one profile key exposes nothing
// about another. Store.Rekey rotates the store key, re-wrapping every
// profile key in a single transaction; existing rows need no rewriting.
//
// # Wrong keys
//
// A wrong passphrase or raw key surfaces only as ErrEncryption when the
// store is opened, indistinguishable from corrupted data, before any entry
// is readable.
package sealstore
