package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// HexLen is the length of a content hash in lowercase hex.
const HexLen = sha256.Size * 2

// HashString computes the SHA-256 of data as lowercase hex
func HashString(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReaderString computes the SHA-256 of everything read from reader
func HashReaderString(reader io.Reader) (string, error) {
	if reader == nil {
		return "", fmt.Errorf("reader cannot be nil")
	}
	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileHash computes the content hash of the file at path
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return HashReaderString(f)
}

// NewContentHasher returns a streaming hasher matching HashString.
func NewContentHasher() hash.Hash {
	return sha256.New()
}

// ValidContentHash reports whether s is a 64 character lowercase hex digest.
func ValidContentHash(s string) bool {
	if len(s) != HexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
