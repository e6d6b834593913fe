package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/pamuduchat/syncshare/internal/network/transport"
)

const (
	// IVSize is the size of the initialization vector for AES-GCM (96 bits = 12 bytes)
	IVSize = 12
	// TagSize is the size of the GCM authentication tag (128 bits = 16 bytes)
	TagSize = 16
	// KeySizeAES is the size of AES-256 keys (256 bits = 32 bytes)
	KeySizeAES = 32
	// MaxRecordSize is the largest plaintext sealed into one record
	MaxRecordSize = 16 * 1024
)

// SecureStream seals every write into length-prefixed AES-GCM records.
// Nonces are per-direction counters, so records cannot be replayed or
// reordered without failing authentication.
type SecureStream struct {
	transport.Stream

	writeMu   sync.Mutex
	sealer    cipher.AEAD
	sendCount uint64
	sendBuf   []byte

	readMu    sync.Mutex
	opener    cipher.AEAD
	recvCount uint64
	pending   []byte
	recvBuf   []byte
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySizeAES {
		return nil, fmt.Errorf("invalid key size: %d (expected %d)", len(key), KeySizeAES)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}

func newSecureStream(stream transport.Stream, sendKey, recvKey []byte) (*SecureStream, error) {
	sealer, err := newGCM(sendKey)
	if err != nil {
		return nil, err
	}
	opener, err := newGCM(recvKey)
	if err != nil {
		return nil, err
	}
	return &SecureStream{Stream: stream, sealer: sealer, opener: opener}, nil
}

func counterNonce(n uint64) []byte {
	nonce := make([]byte, IVSize)
	binary.BigEndian.PutUint64(nonce[IVSize-8:], n)
	return nonce
}

// Write seals p into one or more records
func (s *SecureStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := written + MaxRecordSize
		if end > len(p) {
			end = len(p)
		}

		s.sendBuf = append(s.sendBuf[:0], 0, 0, 0, 0)
		s.sendBuf = s.sealer.Seal(s.sendBuf, counterNonce(s.sendCount), p[written:end], nil)
		binary.BigEndian.PutUint32(s.sendBuf[:4], uint32(len(s.sendBuf)-4))
		s.sendCount++

		if _, err := s.Stream.Write(s.sendBuf); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// Read returns decrypted bytes, opening the next record when needed
func (s *SecureStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.pending) == 0 {
		if err := s.readRecord(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *SecureStream) readRecord() error {
	var header [4]byte
	if _, err := io.ReadFull(s.Stream, header[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size < TagSize || size > MaxRecordSize+TagSize {
		return fmt.Errorf("invalid record size: %d", size)
	}
	if cap(s.recvBuf) < int(size) {
		s.recvBuf = make([]byte, size)
	}
	record := s.recvBuf[:size]
	if _, err := io.ReadFull(s.Stream, record); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	plain, err := s.opener.Open(record[:0], counterNonce(s.recvCount), record, nil)
	if err != nil {
		return fmt.Errorf("failed to open record %d: %w", s.recvCount, err)
	}
	s.recvCount++
	s.pending = plain
	return nil
}
