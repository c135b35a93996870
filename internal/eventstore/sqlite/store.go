// Package sqlite is the durable, WAL-mode SQLite implementation of
// eventstore.Store, outbox.Queue, and the graph/shared-store tables that
// layer on top of the same file. Modeled throughout on the teacher's
// internal/storage/sqlite and internal/storage/ephemeral packages: a
// single *sql.DB with MaxOpenConns(1), dedicated-connection IMMEDIATE
// transactions for the append hot path, and sentinel-wrapped errors.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the SQLite-backed implementation of eventstore.Store and
// outbox.Queue. The graph and shared-store packages reach the same file
// through DB().
type Store struct {
	db     *sql.DB
	dbPath string
	log    *slog.Logger
	mu     sync.RWMutex
}

// Open opens (creating if needed) a WAL-mode SQLite database at dbPath and
// runs schema initialization + migrations. busyTimeoutMS configures
// SQLite's internal busy handler; the writer additionally retries
// SQLITE_BUSY with exponential backoff above that (see beginImmediateWithRetry).
func Open(dbPath string, busyTimeoutMS int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventstore: create db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", dbPath, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", dbPath, err)
	}

	// A single physical connection keeps the WAL writer serialized and
	// matches the teacher's ephemeral store convention; readers still see
	// committed snapshots because WAL mode allows concurrent readers
	// against other OS-level connections (e.g. the dashboard process).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventstore: ping %s: %w", dbPath, err)
	}

	s := &Store{db: db, dbPath: dbPath, log: log}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventstore: init schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventstore: migrations: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB exposes the underlying *sql.DB so the shared store and the SQLite
// graph backend can use the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// withTx runs fn inside a plain (DEFERRED) transaction, rolling back on
// any error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}
