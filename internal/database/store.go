// Package database is the embedded document store. Each cached record type
// lives in its own SQLite table holding the JSON body, a revision, a
// tombstone flag and the indexed columns used by live queries.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"histsync/internal/database/migrations"
	"histsync/internal/model"
	"histsync/internal/schema"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a store that lives only as long as the process.
const MemoryPath = ":memory:"

var (
	// ErrVersionConflict is returned when a write carries a revision that no
	// longer matches the stored one.
	ErrVersionConflict = errors.New("document update conflict")
	// ErrNotFound is returned when removing a key that is absent or already removed.
	ErrNotFound = errors.New("document not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
	// ErrMissingPrimaryKey is returned for documents without a key.
	ErrMissingPrimaryKey = schema.ErrMissingPrimaryKey
)

// Logger receives store diagnostics. Args are slog-style key/value pairs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}

// Options configures a Store. Zero values select a silent logger and time.Now.
type Options struct {
	Logger Logger
	Now    func() time.Time
}

// Store owns the database connection and the four typed collections.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
	log  Logger
	now  func() time.Time

	Histories   *Collection[*model.History]
	Contents    *Collection[*model.Content]
	Datasets    *Collection[*model.Dataset]
	Collections *Collection[*model.DatasetCollection]
}

// Open connects to the store at path, creating and migrating it as needed.
// If the existing database cannot be opened or migrated it is wiped and
// rebuilt once; a second failure is returned.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	s := &Store{path: path, log: opts.Logger, now: opts.Now}
	if s.log == nil {
		s.log = nopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.Histories = newCollection(s, schema.History, func() *model.History { return &model.History{} })
	s.Contents = newCollection(s, schema.Content, func() *model.Content { return &model.Content{} })
	s.Datasets = newCollection(s, schema.Dataset, func() *model.Dataset { return &model.Dataset{} })
	s.Collections = newCollection(s, schema.DatasetCollection, func() *model.DatasetCollection { return &model.DatasetCollection{} })

	if err := s.connect(ctx); err != nil {
		s.log.Warn("local store unusable, rebuilding", "path", path, "error", err)
		if err := removeDatabase(path); err != nil {
			return nil, fmt.Errorf("removing database: %w", err)
		}
		if err := s.connect(ctx); err != nil {
			return nil, fmt.Errorf("opening database after rebuild: %w", err)
		}
	}
	return s, nil
}

// OpenConnection opens a SQLite connection configured for the store.
// All access goes through a single connection so ":memory:" databases are
// shared by every query.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func (s *Store) connect(ctx context.Context) error {
	db, err := OpenConnection(s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging database: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return err
	}
	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		db.Close()
		return err
	}
	s.db = db
	return nil
}

// removeDatabase deletes the database file and its SQLite side files.
func removeDatabase(path string) error {
	if path == MemoryPath || path == "" {
		return nil
	}
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close stops every live query and closes the connection.
func (s *Store) Close() error {
	s.closeSubscriptions()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Wipe destroys all cached data and rebuilds an empty store. Live queries
// stay subscribed and receive the empty result.
func (s *Store) Wipe(ctx context.Context) error {
	s.mu.Lock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	err := removeDatabase(s.path)
	if err == nil {
		err = s.connect(ctx)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("wiping store: %w", err)
	}

	s.log.Info("local store wiped", "path", s.path)
	s.Histories.subs.notify()
	s.Contents.subs.notify()
	s.Datasets.subs.notify()
	s.Collections.subs.notify()
	return nil
}

// CheckMigrations reports whether the schema matches this binary.
func (s *Store) CheckMigrations() error {
	return s.withDB(func(db *sql.DB) error {
		return migrations.CheckDBMigrationStatus(db)
	})
}

// RequestTime returns the last request time recorded for a polling context.
func (s *Store) RequestTime(ctx context.Context, pollContext, historyID string) (string, bool, error) {
	var last string
	err := s.withDB(func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT last_sent FROM request_times WHERE context = ? AND history_id = ?",
			pollContext, historyID).Scan(&last)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading request time: %w", err)
	}
	return last, true, nil
}

// SetRequestTime records the time a polling request was sent.
func (s *Store) SetRequestTime(ctx context.Context, pollContext, historyID, sent string) error {
	err := s.withDB(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO request_times (context, history_id, last_sent) VALUES (?, ?, ?)
			ON CONFLICT (context, history_id) DO UPDATE SET last_sent = excluded.last_sent`,
			pollContext, historyID, sent)
		return err
	})
	if err != nil {
		return fmt.Errorf("writing request time: %w", err)
	}
	return nil
}

// withDB runs fn while holding the connection against a concurrent Wipe or Close.
func (s *Store) withDB(fn func(db *sql.DB) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return fn(s.db)
}

func (s *Store) closeSubscriptions() {
	s.Histories.subs.closeAll()
	s.Contents.subs.closeAll()
	s.Datasets.subs.closeAll()
	s.Collections.subs.closeAll()
}
