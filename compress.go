package sealstore

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	flagNoCompression byte = 0x00
	flagZstd          byte = 0x01

	// defaultCompressionThreshold is the minimum value size before
	// compression is attempted.
	defaultCompressionThreshold = 1024

	// minCompressionSavings is the fraction a value must shrink by for the
	// compressed form to be kept.
	minCompressionSavings = 0.10

	// maxDecompressedSize caps decompression output so a small hostile
	// payload cannot expand to consume all memory.
	maxDecompressedSize = 64 * 1024 * 1024
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
	zstdErr     error
)

func initZstd() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			zstdEncoder.Close()
			zstdEncoder = nil
		}
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// maybeCompress compresses a value payload before encryption when it is
// large enough and compression actually helps. Returns the (possibly
// compressed) payload and the envelope flag byte.
func maybeCompress(data []byte, threshold int, disabled bool) ([]byte, byte) {
	if disabled || len(data) < threshold {
		return data, flagNoCompression
	}
	enc, _, err := initZstd()
	if err != nil {
		return data, flagNoCompression
	}
	compressed := enc.EncodeAll(data, nil)
	savings := float64(len(data)-len(compressed)) / float64(len(data))
	if savings < minCompressionSavings {
		return data, flagNoCompression
	}
	return compressed, flagZstd
}

// decompress reverses maybeCompress based on the envelope flag byte.
func decompress(data []byte, flag byte) ([]byte, error) {
	switch flag {
	case flagNoCompression:
		return data, nil
	case flagZstd:
		_, dec, err := initZstd()
		if err != nil {
			return nil, ErrDecompressionFailed
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil || len(out) > maxDecompressedSize {
			return nil, ErrDecompressionFailed
		}
		return out, nil
	default:
		return nil, ErrInvalidFormat
	}
}
