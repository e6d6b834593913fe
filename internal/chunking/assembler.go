package chunking

import (
	"errors"
	"fmt"
	"hash"
	"os"
	"time"

	"github.com/pamuduchat/syncshare/internal/filesystem"
	"github.com/pamuduchat/syncshare/internal/hashing"
)

var (
	// ErrOffsetMismatch means a chunk did not continue where the last one ended
	ErrOffsetMismatch = errors.New("chunk offset mismatch")
	// ErrSizeMismatch means the reconstructed byte count differs from the announced size
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrHashMismatch means the reconstructed content differs from the announced hash
	ErrHashMismatch = errors.New("hash mismatch")
)

// Assembler reconstructs one incoming file by ordered append into a
// temporary file next to its destination. Nothing is visible at the
// destination until Finish succeeds.
type Assembler struct {
	dest         string
	expectedSize int64
	expectedHash string
	file         *os.File
	hasher       hash.Hash
	written      int64
}

// NewAssembler starts a file at dest. expectedHash may be empty to skip
// content verification.
func NewAssembler(dest string, expectedSize int64, expectedHash string) (*Assembler, error) {
	file, err := filesystem.CreateTempFor(dest)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		dest:         dest,
		expectedSize: expectedSize,
		expectedHash: expectedHash,
		file:         file,
		hasher:       hashing.NewContentHasher(),
	}, nil
}

// Append writes the next chunk. offset must equal the bytes received so far.
func (a *Assembler) Append(offset int64, data []byte) error {
	if offset != a.written {
		return fmt.Errorf("%w: expected %d, got %d", ErrOffsetMismatch, a.written, offset)
	}
	if a.written+int64(len(data)) > a.expectedSize {
		return fmt.Errorf("%w: received more than %d bytes", ErrSizeMismatch, a.expectedSize)
	}
	if _, err := a.file.Write(data); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	a.hasher.Write(data)
	a.written += int64(len(data))
	return nil
}

// Written returns the bytes received so far
func (a *Assembler) Written() int64 {
	return a.written
}

// Finish verifies size and hash and moves the file into place. On any
// error the temporary file is removed.
func (a *Assembler) Finish(mtime time.Time) (string, error) {
	if a.written != a.expectedSize {
		a.Abort()
		return "", fmt.Errorf("%w: announced %d bytes, received %d", ErrSizeMismatch, a.expectedSize, a.written)
	}

	sum := fmt.Sprintf("%x", a.hasher.Sum(nil))
	if a.expectedHash != "" && sum != a.expectedHash {
		a.Abort()
		return "", fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, a.expectedHash, sum)
	}

	file := a.file
	a.file = nil
	if err := filesystem.CommitTemp(file, a.dest, mtime); err != nil {
		return "", err
	}
	return sum, nil
}

// Abort discards the partial file
func (a *Assembler) Abort() {
	if a.file == nil {
		return
	}
	name := a.file.Name()
	a.file.Close()
	os.Remove(name)
	a.file = nil
}
