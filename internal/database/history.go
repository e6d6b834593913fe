package database

import (
	"fmt"
	"time"

	"github.com/pamuduchat/syncshare/internal/history"
)

// AppendHistory stores one history entry
func (d *DB) AppendHistory(e history.Entry) error {
	_, err := d.db.Exec(`
	INSERT INTO history (timestamp, folder_name, status, details, peer_display_name)
	VALUES (?, ?, ?, ?, ?)
	`, e.Timestamp.UnixMilli(), e.FolderName, e.Status, e.Details, e.PeerDisplayName)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// LoadHistory returns every entry in insertion order
func (d *DB) LoadHistory() ([]history.Entry, error) {
	rows, err := d.db.Query(`
	SELECT timestamp, folder_name, status, details, peer_display_name
	FROM history ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []history.Entry
	for rows.Next() {
		var e history.Entry
		var ts int64
		if err := rows.Scan(&ts, &e.FolderName, &e.Status, &e.Details, &e.PeerDisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory deletes every entry
func (d *DB) ClearHistory() error {
	if _, err := d.db.Exec("DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
