// Package store is the SQLite persistence layer: contacts, groups,
// messages, the processed-nonce log and the durable task queue.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database. It implements the message store interface
// of the reflected message processor and the queue store of the task queue.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS contact (
	identity TEXT PRIMARY KEY,
	public_key BLOB NOT NULL DEFAULT x'',
	nickname TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS chat_group (
	creator TEXT NOT NULL,
	group_id INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	members TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (creator, group_id)
);
CREATE TABLE IF NOT EXISTS message (
	message_id INTEGER PRIMARY KEY,
	contact TEXT NOT NULL DEFAULT '',
	group_creator TEXT NOT NULL DEFAULT '',
	group_id INTEGER NOT NULL DEFAULT 0,
	sender TEXT NOT NULL DEFAULT '',
	type INTEGER NOT NULL,
	body BLOB NOT NULL DEFAULT x'',
	created_at INTEGER NOT NULL,
	state TEXT NOT NULL DEFAULT '',
	incoming INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS message_nonce (
	nonce BLOB PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS task_queue (
	position INTEGER PRIMARY KEY AUTOINCREMENT,
	record BLOB NOT NULL
);
`

// DefaultDataDir returns the default data directory.
// Uses $XDG_DATA_HOME/mediator-go, falling back to ~/.local/share/mediator-go.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "mediator-go")
}

// Open opens or creates a SQLite store at the given path.
// If dbPath is empty, it defaults to $XDG_DATA_HOME/mediator-go/default.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(DefaultDataDir(), "default.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	// WAL keeps readers unblocked while the task queue writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations applies any necessary schema changes.
func runMigrations(db *sql.DB) error {
	// Migration: messages gained an edited_at timestamp.
	_, err := db.Exec("ALTER TABLE message ADD COLUMN edited_at INTEGER NOT NULL DEFAULT 0")
	if err != nil && !isColumnExistsError(err) {
		return fmt.Errorf("add edited_at column: %w", err)
	}
	return nil
}

// isColumnExistsError checks if the error is due to column already existing.
func isColumnExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
