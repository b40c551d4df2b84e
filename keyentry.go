package sealstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/curve25519"
)

// KeyAlg identifies the algorithm of a stored key entry. Key entries are
// signing, agreement, or symmetric keys persisted in the store; they are
// unrelated to the store's own encryption keys.
type KeyAlg string

const (
	// KeyAlgEd25519 is an Ed25519 signing keypair.
	KeyAlgEd25519 KeyAlg = "ed25519"
	// KeyAlgX25519 is an X25519 key-agreement keypair.
	KeyAlgX25519 KeyAlg = "x25519"
	// KeyAlgChaCha20 is a 32-byte symmetric XChaCha20-Poly1305 key.
	KeyAlgChaCha20 KeyAlg = "c20p"
)

// KeyEntry is a stored cryptographic key. Secret material only exists
// unwrapped in memory; at rest it lives inside an entry's encrypted payload.
type KeyEntry struct {
	Alg      KeyAlg `json:"alg"`
	Public   []byte `json:"pub,omitempty"`
	Secret   []byte `json:"sec"`
	Metadata string `json:"meta,omitempty"`
}

// GenerateKeyEntry creates a fresh key of the given algorithm. Unknown
// algorithms fail with ErrUnsupportedAlgorithm.
func GenerateKeyEntry(alg KeyAlg) (*KeyEntry, error) {
	switch alg {
	case KeyAlgEd25519:
		pub, sec, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, ErrEncryption
		}
		return &KeyEntry{Alg: alg, Public: pub, Secret: sec}, nil
	case KeyAlgX25519:
		sec := make([]byte, curve25519.ScalarSize)
		if _, err := rand.Read(sec); err != nil {
			return nil, ErrEncryption
		}
		pub, err := curve25519.X25519(sec, curve25519.Basepoint)
		if err != nil {
			return nil, ErrEncryption
		}
		return &KeyEntry{Alg: alg, Public: pub, Secret: sec}, nil
	case KeyAlgChaCha20:
		sec := make([]byte, 32)
		if _, err := rand.Read(sec); err != nil {
			return nil, ErrEncryption
		}
		return &KeyEntry{Alg: alg, Secret: sec}, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// ImportKeyEntry builds a key entry from existing secret material,
// recomputing the public half where the algorithm has one.
func ImportKeyEntry(alg KeyAlg, secret []byte) (*KeyEntry, error) {
	switch alg {
	case KeyAlgEd25519:
		if len(secret) == ed25519.SeedSize {
			secret = ed25519.NewKeyFromSeed(secret)
		}
		if len(secret) != ed25519.PrivateKeySize {
			return nil, inputErr("ed25519 secret must be 32-byte seed or 64-byte key")
		}
		pub := ed25519.PrivateKey(secret).Public().(ed25519.PublicKey)
		return &KeyEntry{Alg: alg, Public: pub, Secret: secret}, nil
	case KeyAlgX25519:
		if len(secret) != curve25519.ScalarSize {
			return nil, inputErr("x25519 secret must be 32 bytes")
		}
		pub, err := curve25519.X25519(secret, curve25519.Basepoint)
		if err != nil {
			return nil, inputErr("invalid x25519 scalar")
		}
		return &KeyEntry{Alg: alg, Public: pub, Secret: secret}, nil
	case KeyAlgChaCha20:
		if len(secret) != 32 {
			return nil, inputErr("symmetric key must be 32 bytes")
		}
		return &KeyEntry{Alg: alg, Secret: secret}, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// Thumbprint is a stable fingerprint of the key's algorithm and public (or,
// for symmetric keys, secret) material, usable as a lookup tag.
func (k *KeyEntry) Thumbprint() string {
	h := sha256.New()
	h.Write([]byte(k.Alg))
	h.Write([]byte{0})
	if len(k.Public) > 0 {
		h.Write(k.Public)
	} else {
		h.Write(k.Secret)
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
