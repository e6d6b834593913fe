package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// FolderMapping returns the local destination for a remote folder name
func (d *DB) FolderMapping(remoteName string) (string, bool, error) {
	var localPath string
	err := d.db.QueryRow("SELECT local_path FROM folder_mappings WHERE remote_name = ?", remoteName).Scan(&localPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query folder mapping: %w", err)
	}
	return localPath, true, nil
}

// SaveFolderMapping creates or replaces a mapping
func (d *DB) SaveFolderMapping(remoteName, localPath string) error {
	_, err := d.db.Exec(`
	INSERT INTO folder_mappings (remote_name, local_path, updated_at) VALUES (?, ?, unixepoch())
	ON CONFLICT(remote_name) DO UPDATE SET
		local_path = excluded.local_path,
		updated_at = excluded.updated_at
	`, remoteName, localPath)
	if err != nil {
		return fmt.Errorf("failed to save folder mapping: %w", err)
	}
	return nil
}

// FolderMappings returns every stored mapping
func (d *DB) FolderMappings() (map[string]string, error) {
	rows, err := d.db.Query("SELECT remote_name, local_path FROM folder_mappings")
	if err != nil {
		return nil, fmt.Errorf("failed to query folder mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, p string
		if err := rows.Scan(&name, &p); err != nil {
			return nil, fmt.Errorf("failed to scan folder mapping: %w", err)
		}
		out[name] = p
	}
	return out, rows.Err()
}
