package sealstore

// Ciphertext envelope:
// [version:1][alg:1][flag:1][nonce:24][ciphertext+tag]
//
// Version byte values:
//   0x01 = current format
//
// Alg byte values:
//   0x01 = XChaCha20-Poly1305
//
// Flag byte values:
//   0x00 = no compression
//   0x01 = zstd compressed
//
// The envelope is versioned so future cipher upgrades can coexist with
// legacy rows: decryption dispatches on the alg byte, encryption always
// writes the current one.

const (
	formatVersion1 byte = 0x01

	algXChaCha20Poly1305 byte = 0x01

	envelopeNonceSize  = 24 // XChaCha20-Poly1305
	envelopeHeaderSize = 3 + envelopeNonceSize
	envelopeTagSize    = 16 // Poly1305
)

// formatEnvelope assembles the wire envelope around an AEAD ciphertext.
func formatEnvelope(alg, flag byte, nonce, ciphertext []byte) []byte {
	out := make([]byte, 0, envelopeHeaderSize+len(ciphertext))
	out = append(out, formatVersion1, alg, flag)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out
}

// parseEnvelope splits an envelope into its parts. The ciphertext slice
// aliases the input.
func parseEnvelope(data []byte) (alg, flag byte, nonce, ciphertext []byte, err error) {
	// An authenticated empty plaintext still carries the Poly1305 tag.
	if len(data) < envelopeHeaderSize+envelopeTagSize {
		err = ErrInvalidFormat
		return
	}
	if data[0] != formatVersion1 {
		err = ErrInvalidFormat
		return
	}
	alg = data[1]
	flag = data[2]
	nonce = data[3 : 3+envelopeNonceSize]
	ciphertext = data[envelopeHeaderSize:]
	return
}
