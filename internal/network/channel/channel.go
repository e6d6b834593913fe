// Package channel frames SyncMessages over one duplex stream. One read loop
// publishes inbound messages in arrival order; sends are serialized.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/compression"
	"github.com/pamuduchat/syncshare/internal/network/messages"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/observability"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

const inboundBuffer = 64

// Options configures a Channel
type Options struct {
	// Compressor applies to frames at least Threshold bytes long. Nil disables compression.
	Compressor compression.Compressor
	Threshold  int
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Channel is the communication channel for one connection
type Channel struct {
	logger  *zap.Logger
	encoder *Encoder
	decoder *Decoder

	mu      sync.Mutex // guards stream handover
	writeMu sync.Mutex
	stream  transport.Stream

	inbound  chan messages.SyncMessage
	done     chan struct{}
	loopDone chan struct{}

	initialized atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

// New creates an uninitialized channel
func New(opts Options) (*Channel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := compression.NewRegistry(opts.Compressor)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoders: %w", err)
	}

	encoder := NewEncoder(opts.Compressor, opts.Threshold)
	if opts.Metrics != nil {
		metrics := opts.Metrics
		encoder.saved = func(algorithm string, n int) {
			metrics.FrameCompressed(context.Background(), algorithm, n)
		}
	}

	return &Channel{
		logger:   logger.Named("channel"),
		encoder:  encoder,
		decoder:  NewDecoder(registry),
		inbound:  make(chan messages.SyncMessage, inboundBuffer),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Initialize takes ownership of stream and starts the read loop
func (c *Channel) Initialize(stream transport.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return syncerr.ErrClosed
	}
	if c.initialized.Load() {
		return errors.New("channel already initialized")
	}
	c.stream = stream
	c.initialized.Store(true)

	go c.readLoop(stream)
	c.logger.Debug("Channel initialized", zap.String("remote", stream.RemoteAddr()))
	return nil
}

// Messages is the inbound sequence. It is closed after the read loop stops.
func (c *Channel) Messages() <-chan messages.SyncMessage {
	return c.inbound
}

// Done is closed once Cleanup has been called
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// IsReady reports whether both directions are usable
func (c *Channel) IsReady() bool {
	return c.initialized.Load() && !c.closed.Load()
}

// Send writes msg as one frame. Concurrent callers never interleave.
func (c *Channel) Send(msg messages.SyncMessage) error {
	if !c.IsReady() {
		return syncerr.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.encoder.Encode(c.stream, msg); err != nil {
		c.logger.Warn("Send failed", zap.Stringer("message", msg), zap.Error(err))
		return err
	}
	return nil
}

func (c *Channel) readLoop(stream io.Reader) {
	defer close(c.loopDone)
	defer close(c.inbound)

	for {
		msg, err := c.decoder.Decode(stream)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.publishFailure(err)
			return
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// publishFailure turns a read failure into a synthetic error message so
// the consumer always learns why the sequence ended.
func (c *Channel) publishFailure(err error) {
	var text string
	if errors.Is(err, io.EOF) {
		text = "Connection lost: peer closed the stream"
	} else {
		text = syncerr.Status(syncerr.Framing(err))
	}
	c.logger.Warn("Read loop stopped", zap.Error(err))

	select {
	case c.inbound <- messages.Error("", text):
	case <-c.done:
	}
}

// Cleanup stops the read loop and closes both directions of the stream.
// It is safe to call more than once.
func (c *Channel) Cleanup() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		stream := c.stream
		c.mu.Unlock()
		close(c.done)

		if stream == nil {
			close(c.inbound)
			close(c.loopDone)
			return
		}

		stream.CloseRead()
		stream.CloseWrite()
		stream.Close()
		<-c.loopDone
		c.logger.Debug("Channel closed")
	})
}
