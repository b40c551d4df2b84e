package sealstore

import (
	"errors"
	"fmt"
)

var (
	// ErrBackend indicates a connection or query failure in the storage
	// backend. Transient instances may be retried by the caller; the core
	// never retries on its own.
	ErrBackend = errors.New("sealstore: backend failure")

	// ErrDuplicate indicates a unique-key violation: an entry with the same
	// (category, name) already exists in the profile, or a profile or key
	// identifier collides with an existing one.
	ErrDuplicate = errors.New("sealstore: duplicate")

	// ErrNotFound indicates the requested entry, key, or profile does not exist.
	ErrNotFound = errors.New("sealstore: not found")

	// ErrEncryption indicates a key or authentication failure. It never
	// yields partial plaintext, and a wrong passphrase is indistinguishable
	// from corrupted data.
	ErrEncryption = errors.New("sealstore: encryption error")

	// ErrUnsupportedQuery indicates a tag filter shape that cannot be
	// evaluated without decrypting data, such as an ordering predicate over
	// a blind-indexed tag.
	ErrUnsupportedQuery = errors.New("sealstore: unsupported query")

	// ErrInput indicates a malformed argument.
	ErrInput = errors.New("sealstore: invalid input")

	// ErrExpired indicates an entry past its expiry. Expired entries are
	// treated as absent on read and pruned lazily.
	ErrExpired = errors.New("sealstore: entry expired")

	// ErrKeyDerivation indicates invalid key derivation parameters.
	ErrKeyDerivation = errors.New("sealstore: key derivation failed")

	// ErrUnsupportedAlgorithm indicates an unknown key or cipher algorithm.
	ErrUnsupportedAlgorithm = errors.New("sealstore: unsupported algorithm")

	// ErrInvalidFormat indicates a malformed ciphertext envelope.
	ErrInvalidFormat = errors.New("sealstore: invalid envelope format")

	// ErrDecompressionFailed indicates zstd decompression failed.
	ErrDecompressionFailed = errors.New("sealstore: decompression failed")

	// ErrSessionClosed indicates the session was used after Commit,
	// Rollback, or Close.
	ErrSessionClosed = errors.New("sealstore: session is closed")

	// ErrStoreClosed indicates the store was used after Close.
	ErrStoreClosed = errors.New("sealstore: store is closed")
)

// backendErr wraps a driver error so callers can match ErrBackend with
// errors.Is while retaining the operation and underlying cause in the
// message.
func backendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackend, op, err)
}

// inputErr reports a malformed argument with context.
func inputErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrInput, msg)
}
