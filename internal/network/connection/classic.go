package connection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/observability"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// ClassicManager drives the classic paired link: one bounded scan with
// results deduplicated by address, and a service-scoped stream.
type ClassicManager struct {
	*link
	cfg    config.ClassicConfig
	source discovery.ClassicSource
}

// NewClassicManager creates a manager over source
func NewClassicManager(cfg config.ClassicConfig, source discovery.ClassicSource, logger *zap.Logger, metrics *observability.Metrics) *ClassicManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassicManager{
		link:   newLink(transport.KindClassic, logger.Named("classic"), metrics),
		cfg:    cfg,
		source: source,
	}
}

// StartDiscovery runs a single scan of the configured duration
func (m *ClassicManager) StartDiscovery(ctx context.Context) error {
	m.status.Set("Scanning")
	m.runDiscovery(m.scan)
	return nil
}

// StopDiscovery ends a running scan
func (m *ClassicManager) StopDiscovery(ctx context.Context) error {
	m.cancelDiscovery()
	return nil
}

func (m *ClassicManager) scan(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ScanDuration)
	defer cancel()

	found := make(chan discovery.PeerDescriptor, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.source.Scan(ctx, found)
	}()

	for {
		select {
		case peer := <-found:
			m.handleEvent(discovery.Event{Type: discovery.EventPeerFound, Peer: peer})
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				m.fail(classifyDiscoveryErr(err))
				return
			}
			m.status.Set(fmt.Sprintf("Scan finished: %d peer(s)", len(m.peers.Get())))
			return
		}
	}
}

// Connect opens the service stream on peer. A running scan is cancelled first.
func (m *ClassicManager) Connect(ctx context.Context, peer discovery.PeerDescriptor) (transport.Stream, error) {
	if err := m.beginConnect(); err != nil {
		m.fail(err)
		return nil, err
	}
	defer m.endConnect()

	m.cancelDiscovery()
	m.status.Set("Connecting to " + peer.Label())

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	stream, err := m.source.Dial(dialCtx, peer)
	if err != nil {
		err = syncerr.Connection(err)
		m.registry.SetState(peer.Key(), discovery.StateFailed)
		m.publishPeers()
		m.fail(err)
		return nil, err
	}

	m.attach(peer, stream)
	return stream, nil
}

// StartListening registers the service and accepts one connection at a time
func (m *ClassicManager) StartListening(ctx context.Context, handle StreamHandler) error {
	if r, ok := m.source.(interface{ Respond() (int, error) }); ok {
		if _, err := r.Respond(); err != nil {
			m.logger.Warn("Failed to answer scans", zap.Error(err))
		}
	}

	acceptor, err := m.source.Listen()
	if err != nil {
		err = syncerr.Connection(err)
		m.fail(err)
		return err
	}
	m.status.Set("Waiting for classic connection")

	go func() {
		defer acceptor.Close()
		stop := context.AfterFunc(ctx, func() { acceptor.Close() })
		defer stop()
		serveAcceptor(ctx, m.link, acceptor, handle)
	}()
	return nil
}

// Disconnect closes the active connection
func (m *ClassicManager) Disconnect() error {
	m.detach()
	return nil
}
