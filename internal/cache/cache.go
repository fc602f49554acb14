package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists cache entries as (key, value, written_at) rows. Value and
// write timestamp always land in the same row, so staleness checks never run
// against mismatched data.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

type Result struct {
	Hit   bool
	Value []byte
	Age   time.Duration
	Stale bool
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS cache_entries (key TEXT PRIMARY KEY, value BLOB NOT NULL, written_at_ms INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	return &Store{db: db, lock: flock.New(lockPath), now: time.Now}, nil
}

// SetClock overrides the staleness clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the entry for key with its staleness computed against
// freshness. A missing row is a clean miss.
func (s *Store) Get(key string, freshness time.Duration) (Result, error) {
	var value []byte
	var writtenMS int64
	err := s.db.QueryRow("SELECT value, written_at_ms FROM cache_entries WHERE key = ?", key).Scan(&value, &writtenMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	written := time.UnixMilli(writtenMS).UTC()
	age := s.now().UTC().Sub(written)
	if age < 0 {
		age = 0
	}
	return Result{
		Hit:   true,
		Value: value,
		Age:   age,
		Stale: age > freshness,
	}, nil
}

// Set overwrites the entry for key, pairing the value with a fresh write
// timestamp in a single upsert.
func (s *Store) Set(key string, value []byte) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	writtenMS := s.now().UTC().UnixMilli()
	_, err = s.db.Exec(`
		INSERT INTO cache_entries (key, value, written_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			written_at_ms=excluded.written_at_ms
	`, key, value, writtenMS)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Clear removes the entry for key if present.
func (s *Store) Clear(key string) error {
	if _, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}
