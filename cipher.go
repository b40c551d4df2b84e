package sealstore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"
)

// profileCipher holds the working keys for one profile, derived from the
// profile's 32-byte master key with HKDF-SHA256. It is immutable after
// construction; key rotation installs a new profileCipher instead of
// mutating one in place.
type profileCipher struct {
	enc   [32]byte // XChaCha20-Poly1305 key for categories, names, values
	hmac  [32]byte // HMAC-SHA256 key for blind index tokens
	nonce [32]byte // HMAC-SHA256 key for deterministic (SIV-style) nonces
}

// newProfileCipher derives the working keys from a profile master key.
func newProfileCipher(master []byte) (*profileCipher, error) {
	if len(master) != storeKeySize {
		return nil, inputErr("profile key must be 32 bytes")
	}
	pc := &profileCipher{}
	if err := hkdfDerive(master, infoEncryption, pc.enc[:]); err != nil {
		return nil, err
	}
	if err := hkdfDerive(master, infoBlindIndex, pc.hmac[:]); err != nil {
		return nil, err
	}
	if err := hkdfDerive(master, infoDetNonce, pc.nonce[:]); err != nil {
		return nil, err
	}
	return pc, nil
}

// generateProfileKey produces a fresh profile master key.
func generateProfileKey() ([]byte, error) {
	key := make([]byte, storeKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, ErrEncryption
	}
	return key, nil
}

// seal encrypts plaintext under the profile encryption key with a random
// nonce, binding aad so the ciphertext cannot be replayed in a different
// context. flag records whether the plaintext was compressed.
func (pc *profileCipher) seal(plaintext, aad []byte, flag byte) ([]byte, error) {
	nonce := make([]byte, envelopeNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, ErrEncryption
	}
	return pc.sealWithNonce(plaintext, aad, nonce, flag)
}

// sealDeterministic encrypts plaintext with a nonce derived from the
// plaintext itself, so equal inputs under the same key yield equal
// ciphertexts. Used for categories and names, where exact-match lookup and
// the uniqueness constraint must operate on ciphertext.
func (pc *profileCipher) sealDeterministic(plaintext []byte) ([]byte, error) {
	h := hmac.New(sha256.New, pc.nonce[:])
	h.Write(plaintext)
	nonce := h.Sum(nil)[:envelopeNonceSize]
	return pc.sealWithNonce(plaintext, nil, nonce, flagNoCompression)
}

func (pc *profileCipher) sealWithNonce(plaintext, aad, nonce []byte, flag byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(pc.enc[:])
	if err != nil {
		return nil, ErrEncryption
	}
	ct := aead.Seal(nil, nonce, plaintext, aad)
	return formatEnvelope(algXChaCha20Poly1305, flag, nonce, ct), nil
}

// open decrypts an envelope produced by seal or sealDeterministic. It
// returns ErrEncryption on any authentication failure, never partial
// plaintext. The compression flag byte is returned for the caller to
// reverse before use.
func (pc *profileCipher) open(envelope, aad []byte) (plaintext []byte, flag byte, err error) {
	alg, flag, nonce, ct, err := parseEnvelope(envelope)
	if err != nil {
		return nil, 0, err
	}
	if alg != algXChaCha20Poly1305 {
		return nil, 0, ErrUnsupportedAlgorithm
	}
	aead, err := chacha20poly1305.NewX(pc.enc[:])
	if err != nil {
		return nil, 0, ErrEncryption
	}
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, 0, ErrEncryption
	}
	return pt, flag, nil
}

// zeroKeys wipes the cipher's key material.
func (pc *profileCipher) zeroKeys() {
	zero(pc.enc[:])
	zero(pc.hmac[:])
	zero(pc.nonce[:])
}

// wrapProfileKey envelope-encrypts a profile master key under the store key.
// The wrapped form is what gets persisted in the profiles table.
func wrapProfileKey(sk storeKey, profileKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(sk[:])
	if err != nil {
		return nil, ErrEncryption
	}
	nonce := make([]byte, envelopeNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, ErrEncryption
	}
	ct := aead.Seal(nil, nonce, profileKey, nil)
	return formatEnvelope(algXChaCha20Poly1305, flagNoCompression, nonce, ct), nil
}

// unwrapProfileKey reverses wrapProfileKey. Authentication failure returns
// ErrEncryption; this is how a wrong passphrase is detected on store open.
func unwrapProfileKey(sk storeKey, wrapped []byte) ([]byte, error) {
	alg, _, nonce, ct, err := parseEnvelope(wrapped)
	if err != nil {
		return nil, err
	}
	if alg != algXChaCha20Poly1305 {
		return nil, ErrUnsupportedAlgorithm
	}
	aead, err := chacha20poly1305.NewX(sk[:])
	if err != nil {
		return nil, ErrEncryption
	}
	key, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrEncryption
	}
	return key, nil
}
