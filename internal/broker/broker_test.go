package broker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pamuduchat/syncshare/internal/broker"
	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/database"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	syncer "github.com/pamuduchat/syncshare/internal/sync"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

type peerLog struct {
	mu    sync.Mutex
	peers []database.PeerInfo
}

func (p *peerLog) InsertOrUpdatePeer(peer database.PeerInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = append(p.peers, peer)
	return nil
}

func (p *peerLog) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

func newConfig(folder, dir, psk string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Folders = []config.FolderConfig{{Name: folder, Path: dir}}
	cfg.Security.PreSharedKey = psk
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type attached struct {
	link *broker.Link
	err  error
}

// attachPair connects two brokers over an in-memory direct link
func attachPair(t *testing.T, a, b *broker.Broker, releaseA, releaseB func()) (*broker.Link, *broker.Link) {
	t.Helper()
	left, right := transport.Pipe(transport.KindDirect)
	ctx := context.Background()

	results := make(chan attached, 1)
	go func() {
		link, err := b.Attach(ctx, discovery.PeerDescriptor{ID: "peer-a", DisplayName: "A", Kind: transport.KindDirect}, right, false, releaseB)
		results <- attached{link, err}
	}()
	linkA, err := a.Attach(ctx, discovery.PeerDescriptor{ID: "peer-b", DisplayName: "B", Kind: transport.KindDirect}, left, true, releaseA)
	if err != nil {
		t.Fatal(err)
	}
	res := <-results
	if res.err != nil {
		t.Fatal(res.err)
	}
	t.Cleanup(func() {
		linkA.Disconnect()
		res.link.Disconnect()
	})
	return linkA, res.link
}

func TestBrokerSyncsAndDisconnects(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	if err := os.WriteFile(filepath.Join(dirA, "note.txt"), []byte("over the secure link"), 0o644); err != nil {
		t.Fatal(err)
	}

	peers := &peerLog{}
	a := broker.New(broker.Options{Config: newConfig("Notes", dirA, "secret"), Peers: peers})
	b := broker.New(broker.Options{Config: newConfig("Notes", dirB, "secret"), Peers: peers})

	var releasedA, releasedB atomic.Bool
	linkA, linkB := attachPair(t, a, b, func() { releasedA.Store(true) }, func() { releasedB.Store(true) })

	if !a.Status().Get().Connected || !a.Status().Get().Secure {
		t.Fatalf("unexpected status %+v", a.Status().Get())
	}
	if peers.count() != 2 {
		t.Errorf("expected both peers recorded, got %d", peers.count())
	}

	if err := linkA.Engine().StartSync("Notes"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "completion", func() bool {
		return linkA.Engine().Phase("Notes") == syncer.PhaseCompleted &&
			linkB.Engine().Phase("Notes") == syncer.PhaseCompleted
	})
	data, err := os.ReadFile(filepath.Join(dirB, "note.txt"))
	if err != nil || string(data) != "over the secure link" {
		t.Fatalf("file not delivered: %q %v", data, err)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-linkB.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("peer link did not end after disconnect")
	}
	if linkB.Err() != nil {
		t.Errorf("orderly disconnect reported %v", linkB.Err())
	}
	if !releasedA.Load() || !releasedB.Load() {
		t.Error("release not called on both sides")
	}
	if a.Active() != nil || b.Status().Get().Connected {
		t.Error("link still reported as connected")
	}
	if err := a.Disconnect(); !errors.Is(err, syncerr.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestBrokerRejectsSecondLink(t *testing.T) {
	a := broker.New(broker.Options{Config: newConfig("F", t.TempDir(), "")})
	b := broker.New(broker.Options{Config: newConfig("F", t.TempDir(), "")})
	attachPair(t, a, b, nil, nil)

	extra, _ := transport.Pipe(transport.KindClassic)
	if _, err := a.Attach(context.Background(), discovery.PeerDescriptor{ID: "x"}, extra, true, nil); !errors.Is(err, syncerr.ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestBrokerHandshakeMismatch(t *testing.T) {
	a := broker.New(broker.Options{Config: newConfig("F", t.TempDir(), "one")})
	b := broker.New(broker.Options{Config: newConfig("F", t.TempDir(), "two")})
	left, right := transport.Pipe(transport.KindDirect)

	errs := make(chan error, 1)
	go func() {
		_, err := b.Attach(context.Background(), discovery.PeerDescriptor{ID: "a"}, right, false, nil)
		errs <- err
	}()
	_, errA := a.Attach(context.Background(), discovery.PeerDescriptor{ID: "b"}, left, true, nil)
	errB := <-errs

	if errA == nil || errB == nil {
		t.Fatalf("expected both sides to fail, got %v and %v", errA, errB)
	}
	if a.Active() != nil {
		t.Error("failed attach left the slot reserved")
	}
	if a.Status().Get().Error == "" {
		t.Error("failure not surfaced on status")
	}
}

func TestBrokerReportsLostConnection(t *testing.T) {
	dirA := t.TempDir()
	cfg := newConfig("F", dirA, "")
	cfg.Compression.Enabled = false
	a := broker.New(broker.Options{Config: cfg})

	// classic links are not wrapped, so the raw end can just vanish
	left, right := transport.Pipe(transport.KindClassic)
	link, err := a.Attach(context.Background(), discovery.PeerDescriptor{ID: "b"}, left, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	right.Close()

	select {
	case <-link.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("link did not end after the stream closed")
	}
	if !errors.Is(link.Err(), syncerr.ErrConnectionFailure) {
		t.Errorf("expected connection failure, got %v", link.Err())
	}
	if status := a.Status().Get(); status.Connected || status.Error == "" {
		t.Errorf("unexpected status %+v", status)
	}
}
