package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// ALPN is the protocol negotiated on the classic link
const ALPN = "syncshare"

// Error codes sent with CloseWithError
const (
	codeNormal         quic.ApplicationErrorCode = 0
	codeWrongService   quic.ApplicationErrorCode = 1
	codeStreamNormal   quic.StreamErrorCode      = 0
	preambleReadWindow                           = 5 * time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	}
}

// QUICListener accepts service-scoped streams. A client opens one stream
// and writes the 16-byte service UUID before anything else.
type QUICListener struct {
	listener *quic.Listener
	service  uuid.UUID
	logger   *zap.Logger
}

// ListenQUIC registers the service on addr
func ListenQUIC(addr string, service uuid.UUID, logger *zap.Logger) (*QUICListener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on QUIC: %w", err)
	}
	return &QUICListener{listener: listener, service: service, logger: logger}, nil
}

// Port returns the bound UDP port
func (l *QUICListener) Port() int {
	if addr, ok := l.listener.Addr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Accept waits for the next client that asks for this service. Clients
// presenting another service id are turned away and the wait continues.
func (l *QUICListener) Accept(ctx context.Context) (Stream, error) {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			return nil, syncerr.Connection(err)
		}

		stream, err := l.acceptService(ctx, conn)
		if err != nil {
			l.logger.Warn("Rejected classic client",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Error(err))
			continue
		}
		return stream, nil
	}
}

func (l *QUICListener) acceptService(ctx context.Context, conn *quic.Conn) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, preambleReadWindow)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(codeNormal, "")
		return nil, fmt.Errorf("failed to accept stream: %w", err)
	}

	stream.SetReadDeadline(time.Now().Add(preambleReadWindow))
	var preamble [16]byte
	if _, err := io.ReadFull(stream, preamble[:]); err != nil {
		conn.CloseWithError(codeNormal, "")
		return nil, fmt.Errorf("failed to read service id: %w", err)
	}
	stream.SetReadDeadline(time.Time{})

	if uuid.UUID(preamble) != l.service {
		conn.CloseWithError(codeWrongService, "unknown service")
		return nil, fmt.Errorf("unknown service %s", uuid.UUID(preamble))
	}
	return newQUICStream(conn, stream), nil
}

// Close unregisters the service
func (l *QUICListener) Close() error {
	return l.listener.Close()
}

// DialQUIC opens the service-scoped stream on the peer at addr
func DialQUIC(ctx context.Context, addr string, service uuid.UUID, timeout time.Duration) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsConfig := &tls.Config{
		// Peers use throwaway self-signed certificates; the link is
		// authenticated by pairing, not by a CA.
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPN},
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, syncerr.Connection(err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(codeNormal, "")
		return nil, syncerr.Connection(fmt.Errorf("failed to open stream: %w", err))
	}

	if _, err := stream.Write(service[:]); err != nil {
		conn.CloseWithError(codeNormal, "")
		return nil, syncerr.Connection(fmt.Errorf("failed to write service id: %w", err))
	}
	return newQUICStream(conn, stream), nil
}

// QUICStream adapts one QUIC stream and its connection to Stream
type QUICStream struct {
	conn      *quic.Conn
	stream    *quic.Stream
	closeOnce sync.Once
}

func newQUICStream(conn *quic.Conn, stream *quic.Stream) *QUICStream {
	return &QUICStream{conn: conn, stream: stream}
}

func (s *QUICStream) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *QUICStream) Write(p []byte) (int, error) { return s.stream.Write(p) }

// CloseRead aborts the receive side
func (s *QUICStream) CloseRead() error {
	s.stream.CancelRead(codeStreamNormal)
	return nil
}

// CloseWrite ends the send side; the peer reads EOF
func (s *QUICStream) CloseWrite() error {
	return s.stream.Close()
}

// Close tears down the stream and its connection
func (s *QUICStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stream.CancelRead(codeStreamNormal)
		s.stream.Close()
		err = s.conn.CloseWithError(codeNormal, "")
	})
	return err
}

// RemoteAddr returns the peer address
func (s *QUICStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Kind returns KindClassic
func (s *QUICStream) Kind() Kind {
	return KindClassic
}

// generateSelfSignedCert creates the throwaway certificate a listener presents
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"syncshare"},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}
