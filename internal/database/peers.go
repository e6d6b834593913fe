package database

import (
	"fmt"
	"time"
)

// PeerInfo is a peer this device has connected to before
type PeerInfo struct {
	PeerID      string
	Kind        string
	DisplayName string
	LastSeen    time.Time
}

// InsertOrUpdatePeer records a peer and bumps its last-seen time
func (d *DB) InsertOrUpdatePeer(peer PeerInfo) error {
	if peer.LastSeen.IsZero() {
		peer.LastSeen = time.Now()
	}

	query := `
	INSERT INTO peers (peer_id, kind, display_name, last_seen) VALUES (?, ?, ?, ?)
	ON CONFLICT(peer_id, kind) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen = excluded.last_seen
	`
	if _, err := d.db.Exec(query, peer.PeerID, peer.Kind, peer.DisplayName, peer.LastSeen.UnixMilli()); err != nil {
		return fmt.Errorf("failed to upsert peer: %w", err)
	}
	return nil
}

// GetRecentPeers returns known peers, most recently seen first
func (d *DB) GetRecentPeers(limit int) ([]PeerInfo, error) {
	rows, err := d.db.Query(`
	SELECT peer_id, kind, display_name, last_seen FROM peers
	ORDER BY last_seen DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %w", err)
	}
	defer rows.Close()

	var peers []PeerInfo
	for rows.Next() {
		var p PeerInfo
		var lastSeen int64
		if err := rows.Scan(&p.PeerID, &p.Kind, &p.DisplayName, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan peer: %w", err)
		}
		p.LastSeen = time.UnixMilli(lastSeen)
		peers = append(peers, p)
	}
	return peers, rows.Err()
}
