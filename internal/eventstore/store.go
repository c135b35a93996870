// Package eventstore defines the durable event log contract (C1):
// append-with-dedupe, lookups, keyword search, turn grouping, and the
// rowid cursor used by replication. Concrete backends live in subpackages
// (currently internal/eventstore/sqlite).
package eventstore

import (
	"context"

	"github.com/cml-project/cml/internal/types"
)

// Store is the durable event log. A single SQLite-backed implementation
// is provided; the interface exists so C5/C6 (which append through it
// rather than writing tables directly) and tests can be exercised against
// an in-memory fake.
type Store interface {
	Append(ctx context.Context, in types.AppendInput) (types.AppendResult, error)

	Get(ctx context.Context, id string) (*types.Event, error)
	GetSessionEvents(ctx context.Context, sessionID string) ([]*types.Event, error)
	GetRecent(ctx context.Context, limit int) ([]*types.Event, error)
	GetEventsByLevel(ctx context.Context, level types.MemoryLevel, filter types.EventFilter) ([]*types.Event, error)
	GetEventsByTurn(ctx context.Context, turnID string) ([]*types.Event, error)

	KeywordSearch(ctx context.Context, query string, limit int) ([]*types.Event, error)

	GetEventsSinceRowid(ctx context.Context, cursor int64, limit int) ([]types.RowidEvent, error)
	ImportEvents(ctx context.Context, events []*types.Event) (ImportResult, error)

	BackfillTurnIDs(ctx context.Context) (int, error)

	SetMemoryLevel(ctx context.Context, eventID string, level types.MemoryLevel) error
	TouchAccess(ctx context.Context, eventID string) error

	// CountEvents and CountUnleveled back report-sync-gap.
	CountEvents(ctx context.Context) (int, error)
	CountUnleveled(ctx context.Context) (int, error)

	// LevelUnleveled inserts missing L0 levels for events with no level
	// set (rows written by direct SQL that bypassed Append; Append and
	// ImportEvents always set a level), returning the number of rows
	// fixed. Backs fix-sync-gap.
	LevelUnleveled(ctx context.Context) (int, error)

	// UpsertConsolidatedMemory inserts a ConsolidatedMemory, or returns the
	// existing row unchanged if one with the same SourceSetHash already
	// exists (consolidation idempotence).
	UpsertConsolidatedMemory(ctx context.Context, m types.ConsolidatedMemory) (types.ConsolidatedMemory, bool, error)
	CountConsolidationsByTopic(ctx context.Context, topic string) (int, error)

	// UpsertRule inserts a Rule, or returns the existing row unchanged if
	// one with the same SourceMemorySetHash already exists (rule
	// promotion idempotence).
	UpsertRule(ctx context.Context, r types.Rule) (types.Rule, bool, error)

	Close() error
}

// ImportResult reports the outcome of ImportEvents, mirroring the
// teacher's importer.Result counters.
type ImportResult struct {
	Inserted int
	Skipped  int
}
