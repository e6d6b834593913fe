package connection_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/network/connection"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// fakeGroupSource scripts the direct-link platform
type fakeGroupSource struct {
	mu        sync.Mutex
	calls     int32
	failWith  []error // one entry per Discover call; nil entries behave normally
	peers     []discovery.PeerDescriptor
	group     discovery.Group
	stopBlock bool
	removed   int32
}

func (f *fakeGroupSource) Discover(ctx context.Context, events chan<- discovery.Event) error {
	n := int(atomic.AddInt32(&f.calls, 1)) - 1
	f.mu.Lock()
	var err error
	if n < len(f.failWith) {
		err = f.failWith[n]
	}
	peers := f.peers
	f.mu.Unlock()
	if err != nil {
		return err
	}

	for _, p := range peers {
		select {
		case events <- discovery.Event{Type: discovery.EventPeerFound, Peer: p}:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func (f *fakeGroupSource) StopDiscovery(ctx context.Context) error {
	if f.stopBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeGroupSource) FormGroup(ctx context.Context, peer discovery.PeerDescriptor) (discovery.Group, error) {
	return f.group, nil
}

func (f *fakeGroupSource) RemoveGroup() error {
	atomic.AddInt32(&f.removed, 1)
	return nil
}

func fastDirectConfig() config.DirectConfig {
	cfg := config.DefaultConfig().Direct
	cfg.ListenHost = "127.0.0.1"
	cfg.DiscoveryTimeout = 100 * time.Millisecond
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.StopTimeout = 50 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDiscoveryTimeoutWithNoPeers(t *testing.T) {
	src := &fakeGroupSource{}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)

	if err := m.StartDiscovery(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !m.Scanning().Get() {
		t.Error("expected scanning while discovery runs")
	}

	waitFor(t, "scanning to stop", func() bool { return !m.Scanning().Get() })
	if peers := m.Peers().Get(); len(peers) != 0 {
		t.Errorf("expected empty peer list, got %v", peers)
	}
	if m.LastError() != nil {
		t.Errorf("timeout is not a failure: %v", m.LastError())
	}
}

func TestDiscoveryTimeoutKeepsLastPeers(t *testing.T) {
	src := &fakeGroupSource{peers: []discovery.PeerDescriptor{
		{ID: "10.0.0.2:8988", DisplayName: "tablet", Kind: transport.KindDirect},
		{ID: "10.0.0.2:8988", DisplayName: "tablet", Kind: transport.KindDirect},
	}}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)
	m.StartDiscovery(context.Background())

	waitFor(t, "scanning to stop", func() bool { return !m.Scanning().Get() })
	peers := m.Peers().Get()
	if len(peers) != 1 || peers[0].DisplayName != "tablet" {
		t.Errorf("unexpected peers %v", peers)
	}
}

func TestDiscoveryRetriesThenSurfaces(t *testing.T) {
	boom := errors.New("busy")
	src := &fakeGroupSource{failWith: []error{boom, boom, boom, boom, boom}}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)
	m.StartDiscovery(context.Background())

	waitFor(t, "scanning to stop", func() bool { return !m.Scanning().Get() })
	if got := atomic.LoadInt32(&src.calls); got != 4 {
		t.Errorf("expected 1 attempt plus 3 retries, got %d", got)
	}
	if !errors.Is(m.LastError(), syncerr.ErrDiscoveryFailure) {
		t.Errorf("expected discovery failure, got %v", m.LastError())
	}
	if m.Status().Get() == "" {
		t.Error("status not updated on failure")
	}
}

func TestDiscoveryRetrySucceeds(t *testing.T) {
	src := &fakeGroupSource{
		failWith: []error{errors.New("busy")},
		peers:    []discovery.PeerDescriptor{{ID: "a", Kind: transport.KindDirect}},
	}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)
	m.StartDiscovery(context.Background())

	waitFor(t, "scanning to stop", func() bool { return !m.Scanning().Get() })
	if m.LastError() != nil {
		t.Errorf("unexpected error %v", m.LastError())
	}
	if len(m.Peers().Get()) != 1 {
		t.Error("peer from retried request missing")
	}
}

func TestPermissionDeniedIsNotRetried(t *testing.T) {
	src := &fakeGroupSource{failWith: []error{syncerr.ErrPermissionDenied, nil}}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)
	m.StartDiscovery(context.Background())

	waitFor(t, "scanning to stop", func() bool { return !m.Scanning().Get() })
	if got := atomic.LoadInt32(&src.calls); got != 1 {
		t.Errorf("permission failure retried: %d calls", got)
	}
	if m.Status().Get() != "Permission denied" {
		t.Errorf("unexpected status %q", m.Status().Get())
	}
}

func TestStartDiscoveryProceedsWhenStopHangs(t *testing.T) {
	src := &fakeGroupSource{stopBlock: true}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)

	start := time.Now()
	if err := m.StartDiscovery(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stop wait not bounded: %v", elapsed)
	}
	if !m.Scanning().Get() {
		t.Error("discovery did not start after stop fallback")
	}
	m.StopDiscovery(context.Background())
}

func TestConnectAsClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			buf := make([]byte, 1)
			conn.Read(buf)
		}
	}()

	peer := discovery.PeerDescriptor{ID: ln.Addr().String(), DisplayName: "owner", Kind: transport.KindDirect}
	src := &fakeGroupSource{group: discovery.Group{Owner: false, OwnerAddress: ln.Addr().String()}}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil)

	stream, err := m.Connect(context.Background(), peer)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if stream.Kind() != transport.KindDirect {
		t.Errorf("unexpected kind %s", stream.Kind())
	}
	if m.ConnectedPeer().Get() != peer.ID {
		t.Errorf("connected peer not published: %q", m.ConnectedPeer().Get())
	}

	if _, err := m.Connect(context.Background(), peer); !errors.Is(err, syncerr.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if m.ConnectedPeer().Get() != "" {
		t.Error("connected peer not cleared")
	}
	if atomic.LoadInt32(&src.removed) != 1 {
		t.Error("group not removed on disconnect")
	}
}

func TestConnectTimeout(t *testing.T) {
	cfg := fastDirectConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	src := &fakeGroupSource{group: discovery.Group{OwnerAddress: "10.255.255.1:8988"}}
	blocking := func(ctx context.Context, addr string, timeout time.Duration) (transport.Stream, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		<-ctx.Done()
		return nil, syncerr.Connection(ctx.Err())
	}
	m := connection.NewDirectManager(cfg, src, nil, nil, connection.WithDialer(blocking))

	_, err := m.Connect(context.Background(), discovery.PeerDescriptor{ID: "x", Kind: transport.KindDirect})
	if !errors.Is(err, syncerr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if m.ConnectedPeer().Get() != "" {
		t.Error("connecting state not reset")
	}

	// The slot is free again after a failure.
	if _, err := m.Connect(context.Background(), discovery.PeerDescriptor{ID: "x", Kind: transport.KindDirect}); errors.Is(err, syncerr.ErrAlreadyConnected) {
		t.Error("failed attempt left the manager connected")
	}
}

// pipeAcceptor yields one end of a pipe per Accept
type pipeAcceptor struct {
	peers  chan transport.Stream
	closed chan struct{}
	once   sync.Once
}

func newPipeAcceptor() *pipeAcceptor {
	return &pipeAcceptor{peers: make(chan transport.Stream, 4), closed: make(chan struct{})}
}

func (p *pipeAcceptor) dial() transport.Stream {
	a, b := transport.Pipe(transport.KindDirect)
	p.peers <- a
	return b
}

func (p *pipeAcceptor) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case s := <-p.peers:
		return s, nil
	case <-p.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, syncerr.Connection(ctx.Err())
	}
}

func (p *pipeAcceptor) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestConnectAsOwner(t *testing.T) {
	acceptor := newPipeAcceptor()
	src := &fakeGroupSource{group: discovery.Group{Owner: true}}
	m := connection.NewDirectManager(fastDirectConfig(), src, nil, nil,
		connection.WithListener(func(addr string) (discovery.Acceptor, error) { return acceptor, nil }))

	client := acceptor.dial()
	defer client.Close()

	stream, err := m.Connect(context.Background(), discovery.PeerDescriptor{ID: "client", Kind: transport.KindDirect})
	if err != nil {
		t.Fatalf("owner connect failed: %v", err)
	}
	defer stream.Close()

	select {
	case <-acceptor.closed:
	default:
		t.Error("owner socket should close after one client")
	}
}

func TestListeningAcceptsOneAtATime(t *testing.T) {
	acceptor := newPipeAcceptor()
	m := connection.NewDirectManager(fastDirectConfig(), &fakeGroupSource{}, nil, nil,
		connection.WithListener(func(addr string) (discovery.Acceptor, error) { return acceptor, nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan transport.Stream, 2)
	if err := m.StartListening(ctx, func(peer discovery.PeerDescriptor, s transport.Stream) { handled <- s }); err != nil {
		t.Fatal(err)
	}

	first := acceptor.dial()
	defer first.Close()
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("first connection not handled")
	}

	second := acceptor.dial()
	defer second.Close()
	select {
	case <-handled:
		t.Fatal("second connection handled while first active")
	case <-time.After(100 * time.Millisecond):
	}

	m.Disconnect()
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("second connection not handled after disconnect")
	}
}

// fakeClassicSource scripts the classic-link platform
type fakeClassicSource struct {
	found []discovery.PeerDescriptor
	err   error
}

func (f *fakeClassicSource) Scan(ctx context.Context, found chan<- discovery.PeerDescriptor) error {
	if f.err != nil {
		return f.err
	}
	for _, p := range f.found {
		found <- p
	}
	<-ctx.Done()
	return nil
}

func (f *fakeClassicSource) Dial(ctx context.Context, peer discovery.PeerDescriptor) (transport.Stream, error) {
	a, _ := transport.Pipe(transport.KindClassic)
	return a, nil
}

func (f *fakeClassicSource) Listen() (discovery.Acceptor, error) {
	return newPipeAcceptor(), nil
}

func fastClassicConfig() config.ClassicConfig {
	cfg := config.DefaultConfig().Classic
	cfg.ScanDuration = 100 * time.Millisecond
	return cfg
}

func TestClassicScanDeduplicatesByAddress(t *testing.T) {
	src := &fakeClassicSource{found: []discovery.PeerDescriptor{
		{ID: "192.168.1.5:8990", DisplayName: "phone", Kind: transport.KindClassic},
		{ID: "192.168.1.5:8990", DisplayName: "phone", Kind: transport.KindClassic},
		{ID: "192.168.1.6:8990", DisplayName: "tablet", Kind: transport.KindClassic},
	}}
	m := connection.NewClassicManager(fastClassicConfig(), src, nil, nil)
	m.StartDiscovery(context.Background())

	waitFor(t, "scan to finish", func() bool { return !m.Scanning().Get() })
	if peers := m.Peers().Get(); len(peers) != 2 {
		t.Errorf("expected 2 unique peers, got %v", peers)
	}
}

func TestClassicRadioOffSurfaces(t *testing.T) {
	src := &fakeClassicSource{err: syncerr.ErrTransportUnavailable}
	m := connection.NewClassicManager(fastClassicConfig(), src, nil, nil)
	m.StartDiscovery(context.Background())

	waitFor(t, "scan to finish", func() bool { return !m.Scanning().Get() })
	if !errors.Is(m.LastError(), syncerr.ErrTransportUnavailable) {
		t.Errorf("expected transport unavailable, got %v", m.LastError())
	}
	if m.Status().Get() != "Transport unavailable" {
		t.Errorf("unexpected status %q", m.Status().Get())
	}
}

func TestClassicConnectAndDisconnect(t *testing.T) {
	m := connection.NewClassicManager(fastClassicConfig(), &fakeClassicSource{}, nil, nil)
	peer := discovery.PeerDescriptor{ID: "192.168.1.5:8990", Kind: transport.KindClassic}

	stream, err := m.Connect(context.Background(), peer)
	if err != nil {
		t.Fatal(err)
	}
	if stream.Kind() != transport.KindClassic {
		t.Errorf("unexpected kind %s", stream.Kind())
	}
	if _, err := m.Connect(context.Background(), peer); !errors.Is(err, syncerr.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
	m.Disconnect()
	if m.ConnectedPeer().Get() != "" {
		t.Error("connected peer not cleared")
	}
}
