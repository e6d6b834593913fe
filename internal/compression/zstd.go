package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct {
	level int
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstdCompressor creates a new Zstandard compressor
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level < 1 || level > 22 {
		return nil, fmt.Errorf("zstd level must be between 1 and 22, got %d", level)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &ZstdCompressor{
		level: level,
		enc:   enc,
		dec:   dec,
	}, nil
}

// Compress compresses data using Zstandard
func (z *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	out := z.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(out) >= len(data) {
		return nil, ErrIncompressible
	}
	return out, nil
}

// Decompress decompresses data using Zstandard
func (z *ZstdCompressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	out, err := z.dec.DecodeAll(data, make([]byte, 0, originalSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if len(out) != originalSize {
		return nil, fmt.Errorf("decompressed size %d does not match expected %d", len(out), originalSize)
	}
	return out, nil
}

// Algorithm returns the algorithm name
func (z *ZstdCompressor) Algorithm() string {
	return "zstd"
}

// ID returns IDZstd
func (z *ZstdCompressor) ID() ID {
	return IDZstd
}

// Close closes the compressor and releases resources
func (z *ZstdCompressor) Close() error {
	if z.enc != nil {
		z.enc.Close()
	}
	if z.dec != nil {
		z.dec.Close()
	}
	return nil
}
