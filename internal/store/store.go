// Package store persists users, playback events, external metadata and
// import progress in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database shared by the sync loop, importers and
// session tracker.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection keeps in-memory databases consistent and is
	// sufficient for file-based use here.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tidal_user_id TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expiry INTEGER NOT NULL DEFAULT 0,
		needs_relogin BOOLEAN NOT NULL DEFAULT 0,
		last_synced_at INTEGER NOT NULL DEFAULT 0,
		first_listened_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS user_blacklist (
		user_id TEXT NOT NULL,
		artist_id TEXT NOT NULL,
		PRIMARY KEY (user_id, artist_id)
	);

	CREATE TABLE IF NOT EXISTS plays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		track_id TEXT NOT NULL,
		played_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		album_id TEXT NOT NULL DEFAULT '',
		artist_id TEXT NOT NULL DEFAULT '',
		artist_ids TEXT NOT NULL DEFAULT '[]',
		blacklisted BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_plays_dedup ON plays(user_id, track_id, played_at);
	CREATE INDEX IF NOT EXISTS idx_plays_recent ON plays(user_id, played_at);

	CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		album_id TEXT NOT NULL DEFAULT '',
		artist_id TEXT NOT NULL DEFAULT '',
		artist_ids TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS albums (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		artist_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS artists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imports (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		cursor INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		imported INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		files TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
`

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UserLock returns the write lock serializing event appends and marker
// updates for one user. Held around the live-sync persist step and each
// import batch commit so the two cannot interleave partial writes.
func (s *Store) UserLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Ping verifies storage connectivity. Callers treat a failure here as fatal.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
