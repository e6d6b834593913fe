package discovery

import (
	"sort"
	"sync"
)

// Registry deduplicates descriptors by (id, kind) and keeps them in the
// order peers were first seen.
type Registry struct {
	mu    sync.RWMutex
	peers map[PeerKey]PeerDescriptor
	order []PeerKey
}

// NewRegistry creates a new peer registry
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[PeerKey]PeerDescriptor),
	}
}

// Upsert adds or replaces a descriptor and reports whether it was new
func (r *Registry) Upsert(peer PeerDescriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := peer.Key()
	_, exists := r.peers[key]
	if !exists {
		r.order = append(r.order, key)
	}
	r.peers[key] = peer
	return !exists
}

// Replace swaps the whole set for peers. Existing first-seen order is kept
// for peers that survive.
func (r *Registry) Replace(peers []PeerDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[PeerKey]PeerDescriptor, len(peers))
	for _, p := range peers {
		next[p.Key()] = p
	}

	order := make([]PeerKey, 0, len(next))
	seen := make(map[PeerKey]bool, len(next))
	for _, key := range r.order {
		if _, ok := next[key]; ok {
			order = append(order, key)
			seen[key] = true
		}
	}
	fresh := make([]PeerKey, 0)
	for key := range next {
		if !seen[key] {
			fresh = append(fresh, key)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	r.peers = next
	r.order = append(order, fresh...)
}

// SetState records a new connection state for one peer
func (r *Registry) SetState(key PeerKey, state ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[key]
	if !ok {
		return false
	}
	peer.State = state
	r.peers[key] = peer
	return true
}

// Get retrieves a peer by key
func (r *Registry) Get(key PeerKey) (PeerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[key]
	return peer, ok
}

// Find looks a peer up by id or display name
func (r *Registry) Find(idOrName string) (PeerDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		p := r.peers[key]
		if p.ID == idOrName || p.DisplayName == idOrName {
			return p, true
		}
	}
	return PeerDescriptor{}, false
}

// Snapshot returns a fresh copy of all peers in first-seen order
func (r *Registry) Snapshot() []PeerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]PeerDescriptor, 0, len(r.order))
	for _, key := range r.order {
		peers = append(peers, r.peers[key])
	}
	return peers
}

// Reset discards every peer
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[PeerKey]PeerDescriptor)
	r.order = nil
}
