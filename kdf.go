package sealstore

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KdfMethod identifies how the store key is obtained from caller-supplied
// key material.
type KdfMethod string

const (
	// KdfArgon2id derives the store key from a passphrase with Argon2id.
	KdfArgon2id KdfMethod = "argon2id"
	// KdfRaw uses caller-supplied 32-byte key material directly.
	KdfRaw KdfMethod = "raw"
)

const (
	storeKeySize = 32
	kdfSaltSize  = 16
)

// Argon2Params holds the cost parameters for passphrase-based store key
// derivation. Parameters are persisted (with the salt) in the store's config
// table so the same key can be re-derived on reopen.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
}

// DefaultArgon2Params is a moderate interactive cost: 64 MiB, 3 passes.
var DefaultArgon2Params = Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 4}

func (p Argon2Params) validate() error {
	if p.Memory < 8 || p.Time < 1 || p.Parallelism < 1 {
		return ErrKeyDerivation
	}
	return nil
}

// storeKey is the root secret for one open store. It only ever wraps and
// unwraps profile keys; it is never persisted.
type storeKey [storeKeySize]byte

// deriveStoreKey derives the store key from a passphrase and salt using
// Argon2id with the given cost parameters.
func deriveStoreKey(passphrase, salt []byte, p Argon2Params) (storeKey, error) {
	var sk storeKey
	if len(passphrase) == 0 {
		return sk, inputErr("empty passphrase")
	}
	if len(salt) != kdfSaltSize {
		return sk, ErrKeyDerivation
	}
	if err := p.validate(); err != nil {
		return sk, err
	}
	raw := argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Parallelism, storeKeySize)
	copy(sk[:], raw)
	zero(raw)
	return sk, nil
}

// storeKeyFromSeed imports a raw 32-byte store key.
func storeKeyFromSeed(seed []byte) (storeKey, error) {
	var sk storeKey
	if len(seed) != storeKeySize {
		return sk, inputErr("raw store key must be 32 bytes")
	}
	copy(sk[:], seed)
	return sk, nil
}

// newKdfSalt generates a fresh salt for passphrase derivation.
func newKdfSalt() ([]byte, error) {
	salt := make([]byte, kdfSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, ErrKeyDerivation
	}
	return salt, nil
}

// Info strings for HKDF subkey derivation. Distinct strings keep the
// encryption, blind-index, and deterministic-nonce keys cryptographically
// separate even though they share one profile master key.
const (
	infoEncryption = "sealstore-encryption"
	infoBlindIndex = "sealstore-blind-index"
	infoDetNonce   = "sealstore-nonce"
)

// hkdfDerive fills out with HKDF-SHA256 output keyed by master for the given
// info string.
func hkdfDerive(master []byte, info string, out []byte) error {
	r := hkdf.New(sha256.New, master, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return ErrKeyDerivation
	}
	return nil
}

// KeyProvider supplies the raw store key from an external key management
// system. Implement it to integrate with a KMS or OS keychain instead of
// passing a passphrase or raw key directly.
type KeyProvider interface {
	// StoreKey returns the 32-byte root key material.
	StoreKey() ([]byte, error)
}

// StaticKeyProvider is an in-memory KeyProvider holding a fixed key.
// Useful for tests and simple deployments.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider copies the given 32-byte key into a provider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	cp := make([]byte, len(key))
	copy(cp, key)
	return &StaticKeyProvider{key: cp}
}

// StoreKey implements KeyProvider.
func (p *StaticKeyProvider) StoreKey() ([]byte, error) {
	if len(p.key) != storeKeySize {
		return nil, inputErr("raw store key must be 32 bytes")
	}
	out := make([]byte, storeKeySize)
	copy(out, p.key)
	return out, nil
}

// zero wipes a byte slice.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
