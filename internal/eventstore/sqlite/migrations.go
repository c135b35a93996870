package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is one numbered, idempotent schema change, modeled on the
// teacher's internal/storage/sqlite/migrations package (one function per
// file, registered by version number, checked against schema_migrations).
type migration struct {
	version int
	name    string
	up      func(db *sql.DB) error
}

// migrations lists every migration in order. New migrations are appended,
// never reordered or edited in place once released.
var migrations = []migration{
	{version: 1, name: "add_last_accessed_index", up: migrateLastAccessedIndex},
}

func runMigrations(db *sql.DB) error {
	for _, m := range migrations {
		applied, err := migrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := db.Exec(
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, formatTime(nowFunc()),
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func migrationApplied(db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// migrateLastAccessedIndex adds an index to support the retriever's
// recency-biased confidence labelling without a full table scan.
func migrateLastAccessedIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_last_accessed ON events(last_accessed_at)`)
	return err
}
