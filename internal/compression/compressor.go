package compression

import "errors"

// ID identifies an algorithm on the wire. Values are part of the frame
// format and must not be renumbered.
type ID byte

const (
	IDNone ID = 0
	IDZstd ID = 1
	IDLZ4  ID = 2
	IDGzip ID = 3
)

// ErrIncompressible is returned when compressing would not shrink the input.
var ErrIncompressible = errors.New("data is incompressible")

// Compressor defines the interface for compression algorithms
type Compressor interface {
	// Compress compresses data and returns compressed data
	Compress(data []byte) ([]byte, error)

	// Decompress restores data to exactly originalSize bytes
	Decompress(data []byte, originalSize int) ([]byte, error)

	// Algorithm returns the algorithm name
	Algorithm() string

	// ID returns the wire identifier
	ID() ID
}

// CalculateCompressionRatio calculates the compression ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 0.0
	}
	return float64(compressedSize) / float64(originalSize)
}
