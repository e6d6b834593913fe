package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      func(*sql.Tx) error
}

func execAll(statements ...string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

var migrations = []Migration{
	{
		Version: 1,
		Up: execAll(
			`CREATE TABLE history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				folder_name TEXT NOT NULL,
				status TEXT NOT NULL,
				details TEXT NOT NULL DEFAULT '',
				peer_display_name TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE folder_mappings (
				remote_name TEXT PRIMARY KEY,
				local_path TEXT NOT NULL,
				updated_at INTEGER NOT NULL DEFAULT (unixepoch())
			)`,
			`CREATE TABLE hash_cache (
				folder TEXT NOT NULL,
				path TEXT NOT NULL,
				size INTEGER NOT NULL,
				mtime INTEGER NOT NULL,
				hash TEXT NOT NULL,
				PRIMARY KEY (folder, path)
			)`,
		),
	},
	{
		Version: 2,
		Up: execAll(
			`CREATE TABLE peers (
				peer_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				last_seen INTEGER NOT NULL,
				PRIMARY KEY (peer_id, kind)
			)`,
			`CREATE INDEX idx_peers_last_seen ON peers(last_seen)`,
		),
	},
}

// Migrate applies all pending migrations, each in its own transaction
func (d *DB) Migrate() error {
	createMigrationsTable := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at REAL DEFAULT (unixepoch())
	);
	`
	if _, err := d.db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := d.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration
func (d *DB) SchemaVersion() (int, error) {
	var currentVersion int
	err := d.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to get current migration version: %w", err)
	}
	return currentVersion, nil
}
