package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// MDNSConfig configures the direct-link peer source
type MDNSConfig struct {
	Instance    string // device id, unique per install
	DisplayName string
	Service     string // e.g. "_syncshare._tcp"
	Domain      string
	Port        int // owner port advertised to clients
}

// MDNSSource discovers direct-link peers with mDNS/DNS-SD. Advertised
// peers are listening group owners, so forming a group with one makes
// this side the client.
type MDNSSource struct {
	cfg    MDNSConfig
	logger *zap.Logger

	mu      sync.Mutex
	server  *zeroconf.Server
	cancel  context.CancelFunc
	done    chan struct{}
	entries map[string]PeerDescriptor
}

// NewMDNSSource creates a new mDNS peer source
func NewMDNSSource(cfg MDNSConfig, logger *zap.Logger) *MDNSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	return &MDNSSource{cfg: cfg, logger: logger}
}

// Advertise registers this device as a group owner
func (m *MDNSSource) Advertise() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return nil
	}

	txtRecords := []string{
		"id=" + m.cfg.Instance,
		"name=" + m.cfg.DisplayName,
		"port=" + strconv.Itoa(m.cfg.Port),
	}
	server, err := zeroconf.Register(m.cfg.Instance, m.cfg.Service, m.cfg.Domain, m.cfg.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", classifyNetErr(err))
	}
	m.server = server
	return nil
}

// Unadvertise withdraws the service record
func (m *MDNSSource) Unadvertise() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		m.server.Shutdown()
		m.server = nil
	}
}

// Discover browses for owners until ctx is done
func (m *MDNSSource) Discover(ctx context.Context, events chan<- Event) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", classifyNetErr(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.entries = make(map[string]PeerDescriptor)
	m.mu.Unlock()
	defer func() {
		cancel()
		close(done)
	}()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, m.cfg.Service, m.cfg.Domain, entries); err != nil {
		return syncerr.Discovery(fmt.Errorf("failed to browse: %w", err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			peer, ok := m.descriptor(entry)
			if !ok {
				continue
			}
			m.emit(ctx, events, peer)
		}
	}
}

func (m *MDNSSource) emit(ctx context.Context, events chan<- Event, peer PeerDescriptor) {
	m.mu.Lock()
	_, seen := m.entries[peer.ID]
	m.entries[peer.ID] = peer
	list := make([]PeerDescriptor, 0, len(m.entries))
	for _, p := range m.entries {
		list = append(list, p)
	}
	m.mu.Unlock()

	if !seen {
		select {
		case events <- Event{Type: EventPeerFound, Peer: peer}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case events <- Event{Type: EventPeersUpdated, Peers: list}:
	case <-ctx.Done():
	}
}

func (m *MDNSSource) descriptor(entry *zeroconf.ServiceEntry) (PeerDescriptor, bool) {
	if entry == nil || entry.Instance == m.cfg.Instance || len(entry.AddrIPv4) == 0 {
		return PeerDescriptor{}, false
	}

	name := entry.Instance
	port := entry.Port
	for _, txt := range entry.Text {
		switch {
		case strings.HasPrefix(txt, "name="):
			if v := strings.TrimPrefix(txt, "name="); v != "" {
				name = v
			}
		case strings.HasPrefix(txt, "port="):
			if p, err := strconv.Atoi(strings.TrimPrefix(txt, "port=")); err == nil {
				port = p
			}
		}
	}

	return PeerDescriptor{
		ID:          net.JoinHostPort(entry.AddrIPv4[0].String(), strconv.Itoa(port)),
		DisplayName: name,
		Kind:        transport.KindDirect,
		State:       StateAvailable,
	}, true
}

// StopDiscovery cancels a running browse and waits for it to wind down
func (m *MDNSSource) StopDiscovery(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormGroup joins the owner advertised by peer
func (m *MDNSSource) FormGroup(ctx context.Context, peer PeerDescriptor) (Group, error) {
	if _, _, err := net.SplitHostPort(peer.ID); err != nil {
		return Group{}, syncerr.Connection(fmt.Errorf("invalid owner address %q: %w", peer.ID, err))
	}
	return Group{Owner: false, OwnerAddress: peer.ID}, nil
}

// RemoveGroup is a no-op; there is no persistent group on mDNS
func (m *MDNSSource) RemoveGroup() error {
	return nil
}

// classifyNetErr maps socket permission failures onto the error taxonomy
func classifyNetErr(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && strings.Contains(strings.ToLower(opErr.Err.Error()), "permission") {
		return fmt.Errorf("%w: %w", syncerr.ErrPermissionDenied, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "no multicast") ||
		strings.Contains(strings.ToLower(err.Error()), "no interface") {
		return fmt.Errorf("%w: %w", syncerr.ErrTransportUnavailable, err)
	}
	return err
}
