// Package connection runs discovery and connection negotiation for the two
// link types and hands the resulting stream to the caller.
package connection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/observability"
	"github.com/pamuduchat/syncshare/internal/state"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// StreamHandler receives each stream accepted while listening
type StreamHandler func(peer discovery.PeerDescriptor, stream transport.Stream)

// Manager is the surface shared by both link managers
type Manager interface {
	Kind() transport.Kind
	StartDiscovery(ctx context.Context) error
	StopDiscovery(ctx context.Context) error
	Connect(ctx context.Context, peer discovery.PeerDescriptor) (transport.Stream, error)
	StartListening(ctx context.Context, handle StreamHandler) error
	Disconnect() error

	Peers() *state.Value[[]discovery.PeerDescriptor]
	Scanning() *state.Value[bool]
	Status() *state.Value[string]
	ConnectedPeer() *state.Value[string]
	Registry() *discovery.Registry
	LastError() error
}

// link holds the observable and connection state common to both managers
type link struct {
	kind     transport.Kind
	logger   *zap.Logger
	metrics  *observability.Metrics
	registry *discovery.Registry

	peers         *state.Value[[]discovery.PeerDescriptor]
	scanning      *state.Value[bool]
	status        *state.Value[string]
	connectedPeer *state.Value[string]

	mu         sync.Mutex
	stream     transport.Stream
	peer       discovery.PeerDescriptor
	connecting bool
	released   chan struct{}
	lastErr    error

	// discovery loop owned by the manager
	discoveryCancel context.CancelFunc
	discoveryDone   chan struct{}
}

func newLink(kind transport.Kind, logger *zap.Logger, metrics *observability.Metrics) *link {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &link{
		kind:          kind,
		logger:        logger,
		metrics:       metrics,
		registry:      discovery.NewRegistry(),
		peers:         state.NewValue([]discovery.PeerDescriptor{}),
		scanning:      state.NewValue(false),
		status:        state.NewValue("Idle"),
		connectedPeer: state.NewValue(""),
	}
}

// Kind returns the link kind
func (l *link) Kind() transport.Kind { return l.kind }

// Peers is the discovered-peer list
func (l *link) Peers() *state.Value[[]discovery.PeerDescriptor] { return l.peers }

// Scanning is true while discovery runs
func (l *link) Scanning() *state.Value[bool] { return l.scanning }

// Status is the human readable connection status
func (l *link) Status() *state.Value[string] { return l.status }

// ConnectedPeer is the id of the connected peer, empty when none
func (l *link) ConnectedPeer() *state.Value[string] { return l.connectedPeer }

// Registry exposes the peer registry for lookups
func (l *link) Registry() *discovery.Registry { return l.registry }

// LastError returns the last surfaced failure
func (l *link) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *link) publishPeers() {
	l.peers.Set(l.registry.Snapshot())
}

func (l *link) handleEvent(ev discovery.Event) {
	switch ev.Type {
	case discovery.EventPeerFound:
		if l.registry.Upsert(ev.Peer) {
			l.logger.Info("Peer found", zap.String("peer_id", ev.Peer.ID), zap.String("name", ev.Peer.DisplayName))
		}
	case discovery.EventPeersUpdated:
		l.registry.Replace(ev.Peers)
	case discovery.EventConnectionChanged:
		l.registry.SetState(ev.Peer.Key(), ev.Peer.State)
	}
	l.publishPeers()
}

// fail surfaces err on the status observable
func (l *link) fail(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
	l.status.Set(syncerr.Status(err))
	l.logger.Warn("Link failure", zap.Error(err))
}

// beginConnect reserves the single connection slot
func (l *link) beginConnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stream != nil {
		return syncerr.ErrAlreadyConnected
	}
	if l.connecting {
		return fmt.Errorf("%w: connection attempt in progress", syncerr.ErrConnectionFailure)
	}
	l.connecting = true
	l.lastErr = nil
	return nil
}

func (l *link) endConnect() {
	l.mu.Lock()
	l.connecting = false
	l.mu.Unlock()
}

// attach records stream as the active connection
func (l *link) attach(peer discovery.PeerDescriptor, stream transport.Stream) {
	l.mu.Lock()
	l.stream = stream
	l.peer = peer
	l.released = make(chan struct{})
	l.mu.Unlock()

	l.registry.SetState(peer.Key(), discovery.StateConnected)
	l.publishPeers()
	l.connectedPeer.Set(peer.ID)
	l.status.Set("Connected to " + peer.Label())
	l.metrics.Connected(context.Background(), string(l.kind))
	l.logger.Info("Connected", zap.String("peer_id", peer.ID), zap.String("remote", stream.RemoteAddr()))
}

// tryAttach attaches stream unless a connection is already active
func (l *link) tryAttach(peer discovery.PeerDescriptor, stream transport.Stream) bool {
	l.mu.Lock()
	busy := l.stream != nil || l.connecting
	l.mu.Unlock()
	if busy {
		return false
	}
	l.attach(peer, stream)
	return true
}

// waitReleased blocks until the active connection is released or ctx is done
func (l *link) waitReleased(ctx context.Context) {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released == nil {
		return
	}
	select {
	case <-released:
	case <-ctx.Done():
	}
}

// detach closes the active stream. It reports false when nothing was connected.
func (l *link) detach() bool {
	l.mu.Lock()
	stream, peer, released := l.stream, l.peer, l.released
	l.stream = nil
	l.released = nil
	l.mu.Unlock()

	if stream == nil {
		return false
	}
	stream.Close()
	if released != nil {
		close(released)
	}

	l.registry.SetState(peer.Key(), discovery.StateAvailable)
	l.publishPeers()
	l.connectedPeer.Set("")
	l.status.Set("Disconnected")
	l.logger.Info("Disconnected", zap.String("peer_id", peer.ID))
	return true
}

// runDiscovery starts loop in the background after cancelling any loop
// still running. The loop clears the scanning flag when it returns.
func (l *link) runDiscovery(loop func(ctx context.Context)) {
	l.cancelDiscovery()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.mu.Lock()
	l.discoveryCancel = cancel
	l.discoveryDone = done
	l.mu.Unlock()

	l.registry.Reset()
	l.publishPeers()
	l.scanning.Set(true)

	go func() {
		defer close(done)
		defer l.scanning.Set(false)
		loop(ctx)
	}()
}

// cancelDiscovery stops the manager's own loop and waits for it
func (l *link) cancelDiscovery() {
	l.mu.Lock()
	cancel, done := l.discoveryCancel, l.discoveryDone
	l.discoveryCancel, l.discoveryDone = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
