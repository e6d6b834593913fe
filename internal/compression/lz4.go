package compression

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements LZ4 block compression. The original size is
// carried by the frame header, which the block format needs to decode.
type LZ4Compressor struct {
	level int
}

// NewLZ4Compressor creates a new LZ4 compressor
func NewLZ4Compressor(level int) (*LZ4Compressor, error) {
	if level < 1 || level > 9 {
		return nil, fmt.Errorf("lz4 level must be between 1 and 9, got %d", level)
	}

	return &LZ4Compressor{
		level: level,
	}, nil
}

// Compress compresses data using LZ4
func (l *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	compressor := lz4.CompressorHC{Level: lz4.CompressionLevel(1 << (8 + l.level))}
	n, err := compressor.CompressBlock(data, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, ErrIncompressible
	}

	return compressed[:n], nil
}

// Decompress decompresses data when the original size is known
func (l *LZ4Compressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	decompressed := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(data, decompressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if n != originalSize {
		return nil, fmt.Errorf("decompressed size %d does not match expected %d", n, originalSize)
	}
	return decompressed, nil
}

// Algorithm returns the algorithm name
func (l *LZ4Compressor) Algorithm() string {
	return "lz4"
}

// ID returns IDLZ4
func (l *LZ4Compressor) ID() ID {
	return IDLZ4
}
