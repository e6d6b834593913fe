package discovery

import (
	"context"

	"github.com/pamuduchat/syncshare/internal/network/transport"
)

// ConnectionState is a peer's connection state as last reported by its source
type ConnectionState string

const (
	StateAvailable   ConnectionState = "available"
	StateInvited     ConnectionState = "invited"
	StateConnected   ConnectionState = "connected"
	StateFailed      ConnectionState = "failed"
	StateUnavailable ConnectionState = "unavailable"
)

// PeerDescriptor describes a discovered peer. Descriptors are replaced on
// every refresh, never mutated in place.
type PeerDescriptor struct {
	ID          string          `json:"id"` // transport-scoped address
	DisplayName string          `json:"display_name"`
	Kind        transport.Kind  `json:"kind"`
	State       ConnectionState `json:"connection_state"`
}

// PeerKey is the uniqueness key of a descriptor
type PeerKey struct {
	ID   string
	Kind transport.Kind
}

// Key returns the descriptor's uniqueness key
func (p PeerDescriptor) Key() PeerKey {
	return PeerKey{ID: p.ID, Kind: p.Kind}
}

// Label returns the display name, falling back to the id
func (p PeerDescriptor) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// EventType tags a source event
type EventType int

const (
	// EventPeerFound reports one newly seen peer
	EventPeerFound EventType = iota
	// EventPeersUpdated carries the source's full current list
	EventPeersUpdated
	// EventConnectionChanged reports a peer's new connection state
	EventConnectionChanged
)

// Event is emitted by a peer source while a discovery request is running
type Event struct {
	Type  EventType
	Peer  PeerDescriptor
	Peers []PeerDescriptor
}

// Group is the outcome of group formation on the direct link
type Group struct {
	// Owner is true when this device accepts the connection
	Owner bool
	// OwnerAddress is the host:port a client dials
	OwnerAddress string
}

// GroupSource is the platform capability behind the direct link
type GroupSource interface {
	// Discover runs one discovery request, sending events until ctx is
	// done (returns nil) or the request fails (returns the error).
	Discover(ctx context.Context, events chan<- Event) error
	// StopDiscovery ends any request still running. It returns once the
	// platform has confirmed or ctx is done.
	StopDiscovery(ctx context.Context) error
	// FormGroup negotiates a group with peer and reports this side's role
	FormGroup(ctx context.Context, peer PeerDescriptor) (Group, error)
	// RemoveGroup leaves the current group
	RemoveGroup() error
}

// Acceptor hands out one inbound stream at a time
type Acceptor interface {
	Accept(ctx context.Context) (transport.Stream, error)
	Close() error
}

// ClassicSource is the platform capability behind the classic link
type ClassicSource interface {
	// Scan reports every peer seen until ctx is done. Duplicates are allowed.
	Scan(ctx context.Context, found chan<- PeerDescriptor) error
	// Dial opens the service-scoped stream on peer
	Dial(ctx context.Context, peer PeerDescriptor) (transport.Stream, error)
	// Listen registers the service record and returns its acceptor
	Listen() (Acceptor, error)
}
