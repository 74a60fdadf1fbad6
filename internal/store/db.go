// Package store provides Pavilion's SQLite-backed persistence: the plugin
// registry consulted at boot and the entity document store handed to plugins
// through the database capability.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS plugin_registry (
	plugin_id            TEXT PRIMARY KEY,
	namespace            TEXT NOT NULL,
	type                 TEXT NOT NULL DEFAULT 'custom',
	enabled              INTEGER,
	user_default_enabled INTEGER NOT NULL DEFAULT 1,
	core_plugin          INTEGER NOT NULL DEFAULT 0,
	dev_only             INTEGER NOT NULL DEFAULT 0,
	version              TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entities (
	entity     TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (entity, id)
);
`

// DB wraps the SQLite database backing the registry and entity store.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// modernc sqlite is single-writer; serialize access through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{sql: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.sql.Close()
}
