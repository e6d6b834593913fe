package chunking

import (
	"context"
	"fmt"
	"io"
)

// DefaultChunkSize is the payload size of one Chunk message
const DefaultChunkSize = 8 * 1024

// EmitFunc receives one chunk. data is only valid until EmitFunc returns.
type EmitFunc func(offset int64, data []byte) error

// Chunker splits a byte stream into fixed-size chunks
type Chunker struct {
	chunkSize int
}

// NewChunker creates a new chunker with the specified chunk size
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{
		chunkSize: chunkSize,
	}
}

// ChunkSize returns the configured chunk size
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// Stream reads r to the end and emits each chunk in order. Every chunk but
// the last is exactly ChunkSize bytes. It returns the total byte count.
func (c *Chunker) Stream(ctx context.Context, r io.Reader, emit EmitFunc) (int64, error) {
	buf := make([]byte, c.chunkSize)
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if emitErr := emit(offset, buf[:n]); emitErr != nil {
				return offset, emitErr
			}
			offset += int64(n)
		}

		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return offset, nil
		default:
			return offset, fmt.Errorf("failed to read chunk: %w", err)
		}
	}
}

// CalculateChunkCount calculates the number of chunks for a given file size
func (c *Chunker) CalculateChunkCount(fileSize int64) int {
	if fileSize == 0 {
		return 0
	}
	return int((fileSize + int64(c.chunkSize) - 1) / int64(c.chunkSize))
}
