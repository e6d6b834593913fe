package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// TCPListener is the group owner's listening socket
type TCPListener struct {
	listener *net.TCPListener
	logger   *zap.Logger
}

// ListenTCP opens the owner's listening socket on addr
func ListenTCP(addr string, logger *zap.Logger) (*TCPListener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve TCP address: %w", err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on TCP: %w", err)
	}
	return &TCPListener{listener: listener, logger: logger}, nil
}

// Addr returns the bound address
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept waits for one client. Cancelling ctx unblocks the wait.
func (l *TCPListener) Accept(ctx context.Context) (Stream, error) {
	l.listener.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		l.listener.SetDeadline(time.Now())
	})
	defer stop()

	conn, err := l.listener.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Connection(ctx.Err())
		}
		return nil, syncerr.Connection(err)
	}

	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(60 * time.Second)
	l.logger.Info("Accepted client", zap.String("remote", conn.RemoteAddr().String()))
	return NewConnStream(conn, KindDirect), nil
}

// Close closes the listening socket
func (l *TCPListener) Close() error {
	err := l.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// DialTCP connects a client to the owner at addr within timeout
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (Stream, error) {
	dialer := net.Dialer{Timeout: timeout, KeepAlive: 60 * time.Second}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, syncerr.Connection(ctx.Err())
		}
		return nil, syncerr.Connection(err)
	}
	return NewConnStream(conn, KindDirect), nil
}
