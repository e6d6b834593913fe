// Package broker turns a connected stream into a running sync engine and
// tears the pair down again when the link ends.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/compression"
	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/crypto"
	"github.com/pamuduchat/syncshare/internal/database"
	"github.com/pamuduchat/syncshare/internal/filesystem"
	"github.com/pamuduchat/syncshare/internal/history"
	"github.com/pamuduchat/syncshare/internal/network/channel"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/messages"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/observability"
	"github.com/pamuduchat/syncshare/internal/state"
	syncer "github.com/pamuduchat/syncshare/internal/sync"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// handshakeTimeout bounds the secure handshake on a fresh stream
const handshakeTimeout = 10 * time.Second

// PeerStore remembers peers this device has connected to
type PeerStore interface {
	InsertOrUpdatePeer(peer database.PeerInfo) error
}

// Options configures a Broker
type Options struct {
	Config    *config.Config
	HashCache filesystem.HashCache
	Mappings  syncer.MappingStore
	Peers     PeerStore
	History   *history.Log
	Muter     syncer.PathMuter
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Status is the published state of the broker's link
type Status struct {
	Connected bool           `json:"connected"`
	PeerID    string         `json:"peerId,omitempty"`
	PeerName  string         `json:"peerName,omitempty"`
	Kind      transport.Kind `json:"kind,omitempty"`
	Secure    bool           `json:"secure"`
	Since     time.Time      `json:"since,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Broker owns at most one live link
type Broker struct {
	opts    Options
	logger  *zap.Logger
	folders map[string]string
	status  *state.Value[Status]

	mu     sync.Mutex
	active *Link
}

// New creates a broker
func New(opts Options) *Broker {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	folders := make(map[string]string, len(opts.Config.Folders))
	for _, f := range opts.Config.Folders {
		folders[f.Name] = f.Path
	}

	return &Broker{
		opts:    opts,
		logger:  logger.Named("broker"),
		folders: folders,
		status:  state.NewValue(Status{}),
	}
}

// Status publishes the current link state
func (b *Broker) Status() *state.Value[Status] { return b.status }

// Active returns the live link, or nil
func (b *Broker) Active() *Link {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil || b.active.engine == nil {
		return nil
	}
	return b.active
}

// Attach starts a sync engine on stream. The dialing side passes
// initiator=true; it only matters for the secure handshake. release runs
// once after the link has been torn down and may be nil. On error the
// stream is closed and release is not called.
func (b *Broker) Attach(ctx context.Context, peer discovery.PeerDescriptor, stream transport.Stream, initiator bool, release func()) (*Link, error) {
	b.mu.Lock()
	if b.active != nil {
		b.mu.Unlock()
		stream.Close()
		return nil, syncerr.ErrAlreadyConnected
	}
	// reserve the slot while the handshake runs
	b.active = &Link{}
	b.mu.Unlock()

	link, err := b.open(ctx, peer, stream, initiator, release)
	b.mu.Lock()
	if err != nil {
		b.active = nil
	} else {
		b.active = link
	}
	b.mu.Unlock()

	if err != nil {
		b.status.Set(Status{PeerID: peer.ID, PeerName: peer.Label(), Kind: peer.Kind, Error: syncerr.Status(err)})
		b.logger.Warn("Failed to attach link", zap.String("peer_id", peer.ID), zap.Error(err))
		return nil, err
	}
	return link, nil
}

func (b *Broker) open(ctx context.Context, peer discovery.PeerDescriptor, stream transport.Stream, initiator bool, release func()) (*Link, error) {
	cfg := b.opts.Config
	logger := b.logger.With(zap.String("peer_id", peer.ID), zap.String("kind", string(stream.Kind())))

	secure := false
	if stream.Kind() == transport.KindDirect && cfg.Security.EncryptDirect {
		hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		secured, err := crypto.Secure(hsCtx, stream, initiator, []byte(cfg.Security.PreSharedKey))
		cancel()
		if err != nil {
			return nil, syncerr.Connection(err)
		}
		stream = secured
		secure = true
	}

	var compressor compression.Compressor
	if cfg.Compression.Enabled {
		c, err := compression.NewCompressor(cfg.Compression.Algorithm, cfg.Compression.Level)
		if err != nil {
			stream.Close()
			return nil, err
		}
		compressor = c
	}

	ch, err := channel.New(channel.Options{
		Compressor: compressor,
		Threshold:  cfg.Compression.Threshold,
		Logger:     logger,
		Metrics:    b.opts.Metrics,
	})
	if err != nil {
		stream.Close()
		return nil, err
	}
	if err := ch.Initialize(stream); err != nil {
		stream.Close()
		return nil, err
	}

	t := newTap(ch)
	engine, err := syncer.NewEngine(t, syncer.Options{
		Sync:      cfg.Sync,
		Folders:   b.folders,
		HashCache: b.opts.HashCache,
		Mappings:  b.opts.Mappings,
		History:   b.opts.History,
		PeerName:  peer.Label(),
		Muter:     b.opts.Muter,
		Logger:    logger,
		Metrics:   b.opts.Metrics,
	})
	if err != nil {
		ch.Cleanup()
		return nil, err
	}

	if b.opts.Peers != nil {
		if err := b.opts.Peers.InsertOrUpdatePeer(database.PeerInfo{
			PeerID:      peer.ID,
			Kind:        string(peer.Kind),
			DisplayName: peer.Label(),
		}); err != nil {
			logger.Warn("Failed to record peer", zap.Error(err))
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	link := &Link{
		peer:    peer,
		engine:  engine,
		channel: ch,
		tap:     t,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	b.status.Set(Status{
		Connected: true,
		PeerID:    peer.ID,
		PeerName:  peer.Label(),
		Kind:      peer.Kind,
		Secure:    secure,
		Since:     time.Now(),
	})
	logger.Info("Link attached", zap.Bool("secure", secure))

	go t.run()
	go b.run(runCtx, link, release)
	return link, nil
}

// run drives the engine until the link ends, then tears it down
func (b *Broker) run(ctx context.Context, link *Link, release func()) {
	// Run returns nil once the peer disconnected or the stream ended
	err := link.engine.Run(ctx)
	link.channel.Cleanup()
	switch {
	case errors.Is(err, context.Canceled):
		err = nil
	case err == nil && link.tap.lost != "":
		err = fmt.Errorf("%w: %s", syncerr.ErrConnectionFailure, link.tap.lost)
	}

	b.mu.Lock()
	if b.active == link {
		b.active = nil
	}
	b.mu.Unlock()

	status := Status{PeerID: link.peer.ID, PeerName: link.peer.Label(), Kind: link.peer.Kind}
	if err != nil {
		status.Error = syncerr.Status(err)
	}
	b.status.Set(status)
	b.logger.Info("Link closed", zap.String("peer_id", link.peer.ID))

	link.err = err
	if release != nil {
		release()
	}
	close(link.done)
}

// Disconnect tells the peer and tears the active link down. It returns
// once the teardown finished.
func (b *Broker) Disconnect() error {
	link := b.Active()
	if link == nil {
		return syncerr.ErrNotConnected
	}
	return link.Disconnect()
}

// Link is one connected peer with its engine
type Link struct {
	peer    discovery.PeerDescriptor
	engine  *syncer.Engine
	channel *channel.Channel
	tap     *tap
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	once    sync.Once
}

// Peer is the connected peer
func (l *Link) Peer() discovery.PeerDescriptor { return l.peer }

// Engine is the engine running on the link
func (l *Link) Engine() *syncer.Engine { return l.engine }

// Done is closed after the link has been torn down
func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns why the link ended, nil for an orderly disconnect. Valid
// after Done is closed.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Disconnect sends Disconnect to the peer, stops the engine and waits
// for the teardown
func (l *Link) Disconnect() error {
	var err error
	l.once.Do(func() {
		if sendErr := l.channel.Send(messages.Disconnect()); sendErr != nil {
			err = fmt.Errorf("failed to send disconnect: %w", sendErr)
		}
		l.cancel()
	})
	<-l.done
	return err
}

// tap forwards the channel's inbound messages to the engine and ends the
// sequence right after a Disconnect, which stops the engine.
type tap struct {
	*channel.Channel
	out  chan messages.SyncMessage
	lost string // text of the read loop's final error, read after out closes
}

func newTap(ch *channel.Channel) *tap {
	return &tap{Channel: ch, out: make(chan messages.SyncMessage)}
}

// Messages is the filtered inbound sequence
func (t *tap) Messages() <-chan messages.SyncMessage { return t.out }

func (t *tap) run() {
	defer close(t.out)
	for msg := range t.Channel.Messages() {
		select {
		case t.out <- msg:
		case <-t.Done():
			return
		}
		if msg.Type == messages.TypeDisconnect {
			return
		}
		if msg.Type == messages.TypeError && msg.FolderName == "" {
			t.lost = msg.ErrorMessage
		}
	}
}
