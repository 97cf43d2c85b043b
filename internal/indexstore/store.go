// Package indexstore is the embedded SQLite cache behind session listing and
// search. It tracks per-file scan state, per-session metadata, per-day usage
// contributions and two full-text corpora, so startup never has to re-walk
// and re-parse every log file. Callers treat any failure here as "index
// unavailable" and fall back to scanning; nothing in this package is
// application-fatal.
package indexstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// StoreError wraps a failed store operation. Callers only ever need the Op
// for logging; the decision is always the same (degrade to scanning).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("indexstore: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Store wraps the index database. All reads and writes are serialized through
// one mutex-guarded connection; WAL mode keeps external readers unblocked
// while a write is in progress.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the index database at dbPath with WAL mode and a busy
// timeout.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, storeErr("mkdir", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storeErr("open", err)
	}

	// One connection: the store is a single-owner handle by design.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, storeErr("pragma", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, storeErr("migrate", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetMeta sets a key-value pair in the metadata table.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return storeErr("set meta", err)
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *Store) GetMeta(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, storeErr("get meta", err)
}

// dayOf formats a timestamp into the day key used by session_days.
func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
