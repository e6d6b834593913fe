package transport

import (
	"io"
	"net"
	"sync"
)

// Kind identifies one of the two link types
type Kind string

const (
	// KindDirect is the group-forming direct link (owner/client over TCP)
	KindDirect Kind = "direct"
	// KindClassic is the classic paired link (service-scoped QUIC stream)
	KindClassic Kind = "classic"
)

// Stream is a raw duplex byte stream produced by a connection manager.
// The communication channel owns it once handed over.
type Stream interface {
	io.ReadWriteCloser
	// CloseRead stops the read direction
	CloseRead() error
	// CloseWrite stops the write direction; the peer reads EOF
	CloseWrite() error
	// RemoteAddr identifies the peer end
	RemoteAddr() string
	// Kind reports which link produced the stream
	Kind() Kind
}

// ConnStream adapts a net.Conn to Stream
type ConnStream struct {
	net.Conn
	kind      Kind
	closeOnce sync.Once
	closeErr  error
}

// NewConnStream wraps conn. Half-close is used when conn supports it.
func NewConnStream(conn net.Conn, kind Kind) *ConnStream {
	return &ConnStream{Conn: conn, kind: kind}
}

// CloseRead closes the read half if supported
func (s *ConnStream) CloseRead() error {
	if c, ok := s.Conn.(interface{ CloseRead() error }); ok {
		return c.CloseRead()
	}
	return nil
}

// CloseWrite closes the write half if supported
func (s *ConnStream) CloseWrite() error {
	if c, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return c.CloseWrite()
	}
	return nil
}

// Close closes the connection once
func (s *ConnStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Conn.Close()
	})
	return s.closeErr
}

// RemoteAddr returns the peer address as a string
func (s *ConnStream) RemoteAddr() string {
	if addr := s.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Kind returns the link kind
func (s *ConnStream) Kind() Kind {
	return s.kind
}

// Pipe returns two connected in-memory streams
func Pipe(kind Kind) (Stream, Stream) {
	a, b := net.Pipe()
	return NewConnStream(a, kind), NewConnStream(b, kind)
}
