package sealstore

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Blind index token widths, in bytes. The width bounds the false-positive
// rate of encrypted-tag equality queries: a shorter token makes the index
// cheaper but lets unrelated values collide. Tokens carry no order, so
// blind-indexed tags support equality and membership predicates only.
const (
	// DefaultIndexWidth (16 bytes, 2^-128 collision odds) makes accidental
	// collisions negligible while halving index storage versus a full
	// HMAC-SHA256 output.
	DefaultIndexWidth = 16
	MinIndexWidth     = 8
	MaxIndexWidth     = sha256.Size
)

// blindIndex computes the deterministic one-way search token for an
// encrypted tag. The token is keyed by the profile's HMAC key over the
// (category, tag name, normalized tag value) tuple, so the same tag value
// indexes differently across categories and tag names, and nothing about
// the value can be recovered from the token.
func (pc *profileCipher) blindIndex(category, tagName, tagValue string, width int, norm Normalizer) []byte {
	if norm != nil {
		tagValue = norm(tagValue)
	}
	h := hmac.New(sha256.New, pc.hmac[:])
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(tagName))
	h.Write([]byte{0})
	h.Write([]byte(tagValue))
	return h.Sum(nil)[:width]
}
