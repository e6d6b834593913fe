package database

import "fmt"

// LookupHash returns the cached hash for path if size and mtime still match
func (d *DB) LookupHash(folder, relPath string, size, mtime int64) (string, bool) {
	var hash string
	err := d.db.QueryRow(`
	SELECT hash FROM hash_cache
	WHERE folder = ? AND path = ? AND size = ? AND mtime = ?
	`, folder, relPath, size, mtime).Scan(&hash)
	if err != nil {
		return "", false
	}
	return hash, true
}

// StoreHash records the hash for path at the given size and mtime
func (d *DB) StoreHash(folder, relPath string, size, mtime int64, hash string) error {
	_, err := d.db.Exec(`
	INSERT INTO hash_cache (folder, path, size, mtime, hash) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(folder, path) DO UPDATE SET
		size = excluded.size,
		mtime = excluded.mtime,
		hash = excluded.hash
	`, folder, relPath, size, mtime, hash)
	if err != nil {
		return fmt.Errorf("failed to store hash: %w", err)
	}
	return nil
}
