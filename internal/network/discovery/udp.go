package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/network/transport"
)

const (
	probeInterval = 3 * time.Second
	maxDatagram   = 4096
)

// datagram is exchanged on the classic discovery port
type datagram struct {
	Kind    string `json:"kind"` // "probe" or "announce"
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Service string `json:"service"`
	Port    int    `json:"port,omitempty"`
}

// BroadcastConfig configures the classic-link peer source
type BroadcastConfig struct {
	Instance       string
	DisplayName    string
	Service        uuid.UUID
	DiscoveryPort  int    // UDP port answered by Respond
	BroadcastAddr  string // default 255.255.255.255
	ListenAddr     string // QUIC listen address for Listen
	QUICPort       int    // announced QUIC port
	ConnectTimeout time.Duration
}

// BroadcastSource finds classic-link peers by UDP broadcast and connects
// to them over a service-scoped QUIC stream.
type BroadcastSource struct {
	cfg    BroadcastConfig
	logger *zap.Logger

	mu        sync.Mutex
	responder *net.UDPConn
	stopCh    chan struct{}
}

// NewBroadcastSource creates a new broadcast source
func NewBroadcastSource(cfg BroadcastConfig, logger *zap.Logger) *BroadcastSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = "255.255.255.255"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &BroadcastSource{cfg: cfg, logger: logger}
}

// Respond answers probes for this service until Stop. It returns the
// bound UDP port.
func (b *BroadcastSource) Respond() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.responder != nil {
		return b.responder.LocalAddr().(*net.UDPAddr).Port, nil
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", b.cfg.DiscoveryPort))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to listen on UDP: %w", classifyNetErr(err))
	}
	b.responder = conn
	b.stopCh = make(chan struct{})

	go b.respondLoop(conn, b.stopCh)
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// Stop stops answering probes
func (b *BroadcastSource) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.responder == nil {
		return nil
	}
	close(b.stopCh)
	err := b.responder.Close()
	b.responder = nil
	return err
}

func (b *BroadcastSource) respondLoop(conn *net.UDPConn, stopCh chan struct{}) {
	buffer := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			b.logger.Debug("Responder read failed", zap.Error(err))
			return
		}

		var probe datagram
		if err := json.Unmarshal(buffer[:n], &probe); err != nil {
			continue
		}
		if probe.Kind != "probe" || probe.Service != b.cfg.Service.String() || probe.ID == b.cfg.Instance {
			continue
		}

		data, err := json.Marshal(datagram{
			Kind:    "announce",
			ID:      b.cfg.Instance,
			Name:    b.cfg.DisplayName,
			Service: b.cfg.Service.String(),
			Port:    b.cfg.QUICPort,
		})
		if err != nil {
			continue
		}
		conn.WriteToUDP(data, addr)
	}
}

// Scan broadcasts probes and reports announcements until ctx is done
func (b *BroadcastSource) Scan(ctx context.Context, found chan<- PeerDescriptor) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("failed to open scan socket: %w", classifyNetErr(err))
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	target, err := net.ResolveUDPAddr("udp", net.JoinHostPort(b.cfg.BroadcastAddr, strconv.Itoa(b.cfg.DiscoveryPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve broadcast address: %w", err)
	}
	probe, err := json.Marshal(datagram{Kind: "probe", ID: b.cfg.Instance, Service: b.cfg.Service.String()})
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			if _, err := conn.WriteToUDP(probe, target); err != nil {
				b.logger.Debug("Probe failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	buffer := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("scan read failed: %w", err)
		}

		var ann datagram
		if err := json.Unmarshal(buffer[:n], &ann); err != nil {
			continue
		}
		if ann.Kind != "announce" || ann.Service != b.cfg.Service.String() || ann.ID == b.cfg.Instance {
			continue
		}

		peer := PeerDescriptor{
			ID:          net.JoinHostPort(addr.IP.String(), strconv.Itoa(ann.Port)),
			DisplayName: ann.Name,
			Kind:        transport.KindClassic,
			State:       StateAvailable,
		}
		select {
		case found <- peer:
		case <-ctx.Done():
			return nil
		}
	}
}

// Dial opens the service stream on peer
func (b *BroadcastSource) Dial(ctx context.Context, peer PeerDescriptor) (transport.Stream, error) {
	return transport.DialQUIC(ctx, peer.ID, b.cfg.Service, b.cfg.ConnectTimeout)
}

// Listen registers the QUIC service
func (b *BroadcastSource) Listen() (Acceptor, error) {
	ln, err := transport.ListenQUIC(b.cfg.ListenAddr, b.cfg.Service, b.logger)
	if err != nil {
		return nil, err
	}
	return ln, nil
}
