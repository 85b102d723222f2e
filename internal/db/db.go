// Package db opens the SQLite database that holds the persisted device state.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Device state - one serialized blob per key, versioned on every save
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS device_state (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create device_state table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
