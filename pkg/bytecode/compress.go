package bytecode

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrDecompressionFailed is returned when a zstd-framed module cannot be
// decoded.
var ErrDecompressionFailed = errors.New("module decompression failed")

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// initZstd builds the shared encoder and decoder. Both are safe for
// concurrent EncodeAll/DecodeAll calls.
func initZstd() {
	zstdEncoder, zstdInitErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if zstdInitErr != nil {
		return
	}
	zstdDecoder, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
}

// IsCompressed reports whether data starts with a zstd frame header.
// Plain modules start with MagicNumber, so the two never collide.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Compress wraps a serialized module in a zstd frame.
func Compress(data []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, fmt.Errorf("zstd init: %w", zstdInitErr)
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress removes a zstd frame added by Compress.
func Decompress(data []byte) ([]byte, error) {
	zstdOnce.Do(initZstd)
	if zstdInitErr != nil {
		return nil, fmt.Errorf("zstd init: %w", zstdInitErr)
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	return out, nil
}

// Unwrap returns the plain module bytes, decompressing if needed.
func Unwrap(data []byte) ([]byte, error) {
	if IsCompressed(data) {
		return Decompress(data)
	}
	return data, nil
}
