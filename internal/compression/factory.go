package compression

import (
	"fmt"
)

// DefaultLevel is used when decoding frames whose level is unknown
const DefaultLevel = 3

// NewCompressor creates a compressor based on algorithm name
func NewCompressor(algorithm string, level int) (Compressor, error) {
	switch algorithm {
	case "zstd":
		return NewZstdCompressor(level)
	case "lz4":
		return NewLZ4Compressor(level)
	case "gzip":
		return NewGzipCompressor(level)
	case "none", "":
		return NewNoOpCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", algorithm)
	}
}

// Registry resolves wire identifiers to decompressors. A peer may compress
// with any algorithm, so every one is available for decoding.
type Registry struct {
	byID map[ID]Compressor
}

// NewRegistry creates decoders for all known algorithms plus the given encoder
func NewRegistry(encoder Compressor) (*Registry, error) {
	r := &Registry{byID: make(map[ID]Compressor)}
	for _, name := range []string{"none", "zstd", "lz4", "gzip"} {
		level := DefaultLevel
		if name == "lz4" {
			level = 1
		}
		c, err := NewCompressor(name, level)
		if err != nil {
			return nil, err
		}
		r.byID[c.ID()] = c
	}
	if encoder != nil {
		r.byID[encoder.ID()] = encoder
	}
	return r, nil
}

// Lookup returns the compressor for id
func (r *Registry) Lookup(id ID) (Compressor, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown compression id: %d", id)
	}
	return c, nil
}

// NoOpCompressor is a compressor that doesn't compress (pass-through)
type NoOpCompressor struct{}

// NewNoOpCompressor creates a no-op compressor
func NewNoOpCompressor() *NoOpCompressor {
	return &NoOpCompressor{}
}

// Compress returns data as-is
func (n *NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns data as-is
func (n *NoOpCompressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	if len(data) != originalSize {
		return nil, fmt.Errorf("size %d does not match expected %d", len(data), originalSize)
	}
	return data, nil
}

// Algorithm returns "none"
func (n *NoOpCompressor) Algorithm() string {
	return "none"
}

// ID returns IDNone
func (n *NoOpCompressor) ID() ID {
	return IDNone
}
