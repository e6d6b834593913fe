package channel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pamuduchat/syncshare/internal/compression"
	"github.com/pamuduchat/syncshare/internal/network/messages"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// Frame layout: 4-byte big-endian body length, 1-byte compression id,
// 4-byte big-endian uncompressed length, then the body.
const (
	headerSize = 9
	// MaxFrameSize bounds both the wire body and its uncompressed form
	MaxFrameSize = 16 << 20
	// bufferDropSize is the capacity past which the encode buffer is released
	// instead of reused.
	bufferDropSize = 1 << 20
)

// Encoder turns messages into frames. It is not safe for concurrent use;
// the channel serializes calls under its write lock.
type Encoder struct {
	compressor compression.Compressor
	threshold  int
	buf        bytes.Buffer
	header     [headerSize]byte

	// saved reports bytes saved by compression, if set
	saved func(algorithm string, n int)
}

// NewEncoder creates an encoder. A nil compressor sends every body as is.
func NewEncoder(compressor compression.Compressor, threshold int) *Encoder {
	if compressor != nil && compressor.ID() == compression.IDNone {
		compressor = nil
	}
	return &Encoder{compressor: compressor, threshold: threshold}
}

// Encode writes msg to w as one frame
func (e *Encoder) Encode(w io.Writer, msg messages.SyncMessage) error {
	if msg.Type == messages.TypeChunk {
		e.resetBuffer()
	}
	e.buf.Reset()
	if err := msg.AppendEncode(&e.buf); err != nil {
		return syncerr.Framing(fmt.Errorf("failed to encode %s: %w", msg.Type, err))
	}

	body := e.buf.Bytes()
	original := len(body)
	id := compression.IDNone
	if e.compressor != nil && original >= e.threshold {
		out, err := e.compressor.Compress(body)
		switch {
		case err == nil:
			if e.saved != nil {
				e.saved(e.compressor.Algorithm(), original-len(out))
			}
			body = out
			id = e.compressor.ID()
		case !errors.Is(err, compression.ErrIncompressible):
			return syncerr.Framing(fmt.Errorf("failed to compress frame: %w", err))
		}
	}

	if len(body) > MaxFrameSize || original > MaxFrameSize {
		return syncerr.Framing(fmt.Errorf("frame of %d bytes exceeds limit", original))
	}

	binary.BigEndian.PutUint32(e.header[0:4], uint32(len(body)))
	e.header[4] = byte(id)
	binary.BigEndian.PutUint32(e.header[5:9], uint32(original))

	frame := net.Buffers{e.header[:], body}
	if _, err := frame.WriteTo(w); err != nil {
		return syncerr.Framing(fmt.Errorf("failed to write frame: %w", err))
	}
	return nil
}

// resetBuffer releases a buffer that grew large so repeated chunk
// payloads do not pin memory across a session.
func (e *Encoder) resetBuffer() {
	if e.buf.Cap() > bufferDropSize {
		e.buf = bytes.Buffer{}
		return
	}
	e.buf.Reset()
}

// Decoder reads frames. It is owned by the single read loop.
type Decoder struct {
	registry *compression.Registry
	header   [headerSize]byte
	buf      []byte
}

// NewDecoder creates a decoder that understands every compression id
func NewDecoder(registry *compression.Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Decode reads one frame from r. A clean close between frames returns io.EOF.
func (d *Decoder) Decode(r io.Reader) (messages.SyncMessage, error) {
	if _, err := io.ReadFull(r, d.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return messages.SyncMessage{}, io.EOF
		}
		return messages.SyncMessage{}, syncerr.Framing(fmt.Errorf("failed to read frame header: %w", err))
	}

	size := binary.BigEndian.Uint32(d.header[0:4])
	id := compression.ID(d.header[4])
	original := binary.BigEndian.Uint32(d.header[5:9])
	if size > MaxFrameSize || original > MaxFrameSize {
		return messages.SyncMessage{}, syncerr.Framing(fmt.Errorf("frame of %d bytes exceeds limit", max(size, original)))
	}

	if cap(d.buf) < int(size) || cap(d.buf) > bufferDropSize && size < bufferDropSize {
		d.buf = make([]byte, size)
	}
	body := d.buf[:size]
	if _, err := io.ReadFull(r, body); err != nil {
		return messages.SyncMessage{}, syncerr.Framing(fmt.Errorf("failed to read frame body: %w", err))
	}

	if id != compression.IDNone {
		c, err := d.registry.Lookup(id)
		if err != nil {
			return messages.SyncMessage{}, syncerr.Framing(err)
		}
		body, err = c.Decompress(body, int(original))
		if err != nil {
			return messages.SyncMessage{}, syncerr.Framing(err)
		}
	} else if original != size {
		return messages.SyncMessage{}, syncerr.Framing(fmt.Errorf("frame length %d does not match declared %d", size, original))
	}

	msg, err := messages.DecodeMessage(body)
	if err != nil {
		return messages.SyncMessage{}, syncerr.Framing(err)
	}
	return msg, nil
}
