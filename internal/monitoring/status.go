package monitoring

import (
	"time"

	"github.com/pamuduchat/syncshare/internal/broker"
	"github.com/pamuduchat/syncshare/internal/network/connection"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	syncer "github.com/pamuduchat/syncshare/internal/sync"
)

// Snapshot is the body of /status
type Snapshot struct {
	Uptime          time.Duration                 `json:"uptime"`
	Link            broker.Status                 `json:"link"`
	Links           []LinkSnapshot                `json:"transports"`
	Sessions        map[string]syncer.SessionInfo `json:"sessions"`
	Transfer        *syncer.Transfer              `json:"transfer,omitempty"`
	MappingRequests []string                      `json:"mappingRequests"`
}

// LinkSnapshot is one connection manager's observable state
type LinkSnapshot struct {
	Kind          string                     `json:"kind"`
	Status        string                     `json:"status"`
	Scanning      bool                       `json:"scanning"`
	ConnectedPeer string                     `json:"connectedPeer,omitempty"`
	Peers         []discovery.PeerDescriptor `json:"peers"`
}

func (s *Server) snapshot() Snapshot {
	snap := Snapshot{
		Uptime:          time.Since(s.started),
		Link:            s.broker.Status().Get(),
		Links:           []LinkSnapshot{},
		Sessions:        map[string]syncer.SessionInfo{},
		MappingRequests: []string{},
	}

	for _, m := range s.managers {
		snap.Links = append(snap.Links, snapshotManager(m))
	}

	if link := s.broker.Active(); link != nil {
		engine := link.Engine()
		snap.Sessions = engine.Sessions().Get()
		if t := engine.Progress().Get(); t.Path != "" {
			snap.Transfer = &t
		}
		if reqs := engine.MappingRequests().Get(); reqs != nil {
			snap.MappingRequests = reqs
		}
	}
	return snap
}

func snapshotManager(m connection.Manager) LinkSnapshot {
	peers := m.Peers().Get()
	if peers == nil {
		peers = []discovery.PeerDescriptor{}
	}
	return LinkSnapshot{
		Kind:          string(m.Kind()),
		Status:        m.Status().Get(),
		Scanning:      m.Scanning().Get(),
		ConnectedPeer: m.ConnectedPeer().Get(),
		Peers:         peers,
	}
}
