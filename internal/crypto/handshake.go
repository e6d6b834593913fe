// Package crypto secures a direct-link stream with an ephemeral X25519
// exchange and AES-256-GCM records.
package crypto

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/pamuduchat/syncshare/internal/network/transport"
)

const (
	// NonceSize is the size of the handshake nonces in bytes
	NonceSize = 32

	helloSize = KeySize + NonceSize
	keyInfo   = "syncshare link keys v1"
)

var confirmText = []byte("syncshare link confirm")

// ErrHandshakeFailed means the peers derived different keys, usually
// because their pre-shared keys differ.
var ErrHandshakeFailed = errors.New("link handshake failed")

// Secure runs the key exchange over stream and returns a stream whose
// traffic is encrypted in both directions. Exactly one side must be the
// initiator. psk may be nil. On failure or cancellation stream is closed.
func Secure(ctx context.Context, stream transport.Stream, initiator bool, psk []byte) (transport.Stream, error) {
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	secured, err := handshake(stream, initiator, psk)
	if err != nil {
		stream.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, ctx.Err())
		}
		return nil, err
	}
	return secured, nil
}

func handshake(stream transport.Stream, initiator bool, psk []byte) (*SecureStream, error) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	hello := append(append(make([]byte, 0, helloSize), keyPair.PublicKey...), nonce...)
	peerHello := make([]byte, helloSize)

	// Both hellos are small enough to fit in any stream buffer, so writing
	// before reading does not deadlock.
	writeErr := make(chan error, 1)
	go func() {
		_, err := stream.Write(hello)
		writeErr <- err
	}()
	if _, err := io.ReadFull(stream, peerHello); err != nil {
		return nil, fmt.Errorf("failed to read peer hello: %w", err)
	}
	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	shared, err := ComputeSharedSecret(keyPair.PrivateKey, peerHello[:KeySize])
	if err != nil {
		return nil, err
	}

	initNonce, respNonce := nonce, peerHello[KeySize:]
	if !initiator {
		initNonce, respNonce = respNonce, initNonce
	}

	sendKey, recvKey, err := deriveKeys(shared, psk, initNonce, respNonce)
	if err != nil {
		return nil, err
	}
	if !initiator {
		sendKey, recvKey = recvKey, sendKey
	}

	secured, err := newSecureStream(stream, sendKey, recvKey)
	if err != nil {
		return nil, err
	}

	go func() {
		_, err := secured.Write(confirmText)
		writeErr <- err
	}()
	got := make([]byte, len(confirmText))
	if _, err := io.ReadFull(secured, got); err != nil || !bytes.Equal(got, confirmText) {
		return nil, fmt.Errorf("%w: key confirmation rejected", ErrHandshakeFailed)
	}
	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("failed to send key confirmation: %w", err)
	}

	return secured, nil
}

// deriveKeys expands the shared secret into the initiator->responder and
// responder->initiator keys
func deriveKeys(shared, psk, initNonce, respNonce []byte) ([]byte, []byte, error) {
	secret := append(append([]byte{}, shared...), psk...)
	salt := append(append([]byte{}, initNonce...), respNonce...)

	reader := hkdf.New(sha3.New256, secret, salt, []byte(keyInfo))
	keys := make([]byte, 2*KeySizeAES)
	if _, err := io.ReadFull(reader, keys); err != nil {
		return nil, nil, fmt.Errorf("failed to derive link keys: %w", err)
	}
	return keys[:KeySizeAES], keys[KeySizeAES:], nil
}
