package hashing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// DeviceID derives a stable short identifier from a device name and a
// random install seed. Both peers only need it to be unique, not secret.
func DeviceID(name string, seed []byte) string {
	h := blake3.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(seed)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// NewSeed returns 32 random bytes for DeviceID.
func NewSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return seed, nil
}

// ListingEntry is the part of a file listing that feeds ListingDigest.
type ListingEntry struct {
	Path string
	Hash string
}

// ListingDigest summarizes a folder listing independent of order. Two
// folders with equal digests hold the same paths with the same content.
func ListingDigest(entries []ListingEntry) string {
	sorted := make([]ListingEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := blake3.New()
	for _, e := range sorted {
		h.Write([]byte(e.Path))
		h.Write([]byte{0})
		h.Write([]byte(e.Hash))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
