package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/observability"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// DialFunc dials the group owner
type DialFunc func(ctx context.Context, addr string, timeout time.Duration) (transport.Stream, error)

// ListenFunc opens the owner's listening socket
type ListenFunc func(addr string) (discovery.Acceptor, error)

// DirectManager drives the group-forming direct link: discovery with
// bounded stop, inactivity timeout and retries, then group formation and
// an owner/client socket on a fixed port.
type DirectManager struct {
	*link
	cfg    config.DirectConfig
	source discovery.GroupSource
	dial   DialFunc
	listen ListenFunc
}

// DirectOption customizes a DirectManager
type DirectOption func(*DirectManager)

// WithDialer replaces the TCP dialer
func WithDialer(dial DialFunc) DirectOption {
	return func(m *DirectManager) { m.dial = dial }
}

// WithListener replaces the TCP listener
func WithListener(listen ListenFunc) DirectOption {
	return func(m *DirectManager) { m.listen = listen }
}

// NewDirectManager creates a manager over source
func NewDirectManager(cfg config.DirectConfig, source discovery.GroupSource, logger *zap.Logger, metrics *observability.Metrics, opts ...DirectOption) *DirectManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &DirectManager{
		link:   newLink(transport.KindDirect, logger.Named("direct"), metrics),
		cfg:    cfg,
		source: source,
		dial:   transport.DialTCP,
	}
	m.listen = func(addr string) (discovery.Acceptor, error) {
		ln, err := transport.ListenTCP(addr, m.logger)
		if err != nil {
			return nil, err
		}
		return ln, nil
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartDiscovery stops any prior request, waiting at most the stop
// timeout, then starts a new one in the background.
func (m *DirectManager) StartDiscovery(ctx context.Context) error {
	m.cancelDiscovery()

	stopCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
	if err := m.source.StopDiscovery(stopCtx); err != nil {
		m.logger.Warn("Prior discovery did not stop in time, proceeding", zap.Error(err))
	}
	cancel()

	m.status.Set("Discovering peers")
	m.runDiscovery(m.discoverWithRetry)
	return nil
}

// StopDiscovery cancels the running request
func (m *DirectManager) StopDiscovery(ctx context.Context) error {
	m.cancelDiscovery()
	stopCtx, cancel := context.WithTimeout(ctx, m.cfg.StopTimeout)
	defer cancel()
	return m.source.StopDiscovery(stopCtx)
}

func (m *DirectManager) discoverWithRetry(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		err := m.discoverOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		err = classifyDiscoveryErr(err)
		if !syncerr.Retryable(err) || attempt >= m.cfg.DiscoveryRetries {
			m.fail(err)
			return
		}

		m.metrics.DiscoveryRetry(ctx, string(m.kind))
		m.logger.Info("Retrying discovery",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", m.cfg.RetryBackoff),
			zap.Error(err))

		timer := time.NewTimer(m.cfg.RetryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// discoverOnce runs one request until it fails, ctx is done, or no event
// arrives for the inactivity timeout.
func (m *DirectManager) discoverOnce(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan discovery.Event, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.source.Discover(ctx, events)
	}()

	timer := time.NewTimer(m.cfg.DiscoveryTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-events:
			m.handleEvent(ev)
			timer.Reset(m.cfg.DiscoveryTimeout)
		case err := <-errCh:
			if err == nil {
				m.status.Set(fmt.Sprintf("Discovery finished: %d peer(s)", len(m.peers.Get())))
			}
			return err
		case <-timer.C:
			m.logger.Info("Discovery timed out", zap.Duration("timeout", m.cfg.DiscoveryTimeout))
			m.status.Set(fmt.Sprintf("Discovery timed out: %d peer(s)", len(m.peers.Get())))
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Connect forms a group with peer and opens the socket for the resulting role
func (m *DirectManager) Connect(ctx context.Context, peer discovery.PeerDescriptor) (transport.Stream, error) {
	if err := m.beginConnect(); err != nil {
		m.fail(err)
		return nil, err
	}
	defer m.endConnect()

	m.status.Set("Connecting to " + peer.Label())
	m.registry.SetState(peer.Key(), discovery.StateInvited)
	m.publishPeers()

	stream, err := m.negotiate(ctx, peer)
	if err != nil {
		err = syncerr.Connection(err)
		m.source.RemoveGroup()
		m.registry.SetState(peer.Key(), discovery.StateFailed)
		m.publishPeers()
		m.fail(err)
		return nil, err
	}

	m.attach(peer, stream)
	return stream, nil
}

func (m *DirectManager) negotiate(ctx context.Context, peer discovery.PeerDescriptor) (transport.Stream, error) {
	formCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	group, err := m.source.FormGroup(formCtx, peer)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to form group: %w", err)
	}

	if !group.Owner {
		m.logger.Info("Group formed as client", zap.String("owner", group.OwnerAddress))
		return m.dial(ctx, group.OwnerAddress, m.cfg.ConnectTimeout)
	}

	// The owner accepts exactly one client, then closes the socket.
	m.logger.Info("Group formed as owner", zap.Int("port", m.cfg.Port))
	acceptor, err := m.listen(m.listenAddr())
	if err != nil {
		return nil, err
	}
	defer acceptor.Close()

	acceptCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	return acceptor.Accept(acceptCtx)
}

// StartListening accepts clients on the owner port in the background, one
// connection at a time, and hands each to handle.
func (m *DirectManager) StartListening(ctx context.Context, handle StreamHandler) error {
	if adv, ok := m.source.(interface{ Advertise() error }); ok {
		if err := adv.Advertise(); err != nil {
			m.logger.Warn("Failed to advertise", zap.Error(err))
		}
	}

	acceptor, err := m.listen(m.listenAddr())
	if err != nil {
		err = syncerr.Connection(err)
		m.fail(err)
		return err
	}
	m.status.Set(fmt.Sprintf("Listening on port %d", m.cfg.Port))

	go func() {
		defer acceptor.Close()
		stop := context.AfterFunc(ctx, func() { acceptor.Close() })
		defer stop()
		serveAcceptor(ctx, m.link, acceptor, handle)
	}()
	return nil
}

// Disconnect closes the active connection and leaves the group
func (m *DirectManager) Disconnect() error {
	if !m.detach() {
		return nil
	}
	if err := m.source.RemoveGroup(); err != nil {
		m.logger.Warn("Failed to remove group", zap.Error(err))
	}
	return nil
}

func (m *DirectManager) listenAddr() string {
	return net.JoinHostPort(m.cfg.ListenHost, strconv.Itoa(m.cfg.Port))
}

// serveAcceptor hands out accepted streams one at a time until ctx is done
func serveAcceptor(ctx context.Context, l *link, acceptor discovery.Acceptor, handle StreamHandler) {
	for ctx.Err() == nil {
		stream, err := acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("Accept failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		peer := discovery.PeerDescriptor{
			ID:          stream.RemoteAddr(),
			DisplayName: stream.RemoteAddr(),
			Kind:        l.kind,
			State:       discovery.StateConnected,
		}
		if !l.tryAttach(peer, stream) {
			l.logger.Info("Rejecting second connection", zap.String("remote", stream.RemoteAddr()))
			stream.Close()
			continue
		}
		handle(peer, stream)
		l.waitReleased(ctx)
	}
}

// classifyDiscoveryErr marks plain source failures as discovery failures
// and leaves permission and radio conditions alone.
func classifyDiscoveryErr(err error) error {
	if errors.Is(err, syncerr.ErrPermissionDenied) || errors.Is(err, syncerr.ErrTransportUnavailable) {
		return err
	}
	return syncerr.Discovery(err)
}
