package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/cml-project/cml/internal/eventstore"
	"github.com/cml-project/cml/internal/types"
)

// GetEventsSinceRowid returns events with rowid > cursor in strictly
// increasing order, the cursor consumers of the replication feed persist
// between polls (spec.md §4.10).
func (s *Store) GetEventsSinceRowid(ctx context.Context, cursor int64, limit int) ([]types.RowidEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, wrapDBError("get events since rowid", err)
	}
	defer rows.Close()

	var out []types.RowidEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("scan event since rowid", err)
		}
		out = append(out, types.RowidEvent{Rowid: e.Rowid, Event: e})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate events since rowid", err)
	}
	return out, nil
}

// ImportEvents upserts peer-sourced events, preserving their original id
// and re-deriving dedupe_key from their own content/timestamp so a
// previously-imported event (or one independently appended with matching
// content) is skipped rather than duplicated. Idempotent by (id) and
// (dedupe_key), per spec.md §4.10's replication round-trip property.
func (s *Store) ImportEvents(ctx context.Context, events []*types.Event) (eventstore.ImportResult, error) {
	var result eventstore.ImportResult

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return result, wrapDBError("import events acquire conn", err)
	}
	defer func() { _ = conn.Close() }()

	for _, e := range events {
		inserted, err := s.importOne(ctx, conn, e)
		if err != nil {
			return result, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

func (s *Store) importOne(ctx context.Context, conn *sql.Conn, e *types.Event) (bool, error) {
	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return false, wrapDBError("import begin immediate", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var existing int
	err := conn.QueryRowContext(ctx,
		`SELECT 1 FROM events WHERE id = ? OR dedupe_key = ?`, e.ID, dedupeKeyOf(e)).Scan(&existing)
	switch {
	case err == nil:
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		committed = true
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through
	default:
		return false, wrapDBError("import check existing", err)
	}

	metadataJSON, err := json.Marshal(metadataOrEmpty(e.Metadata))
	if err != nil {
		return false, err
	}
	level := e.Level
	if level == "" {
		level = types.LevelRaw
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO events (id, event_type, session_id, turn_id, timestamp, content, canonical_key, dedupe_key, metadata, level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.EventType), e.SessionID, e.TurnID, formatTime(e.Timestamp), e.Content,
		canonicalKey(e.EventType, e.SessionID, e.Content), dedupeKeyOf(e), string(metadataJSON), string(level)); err != nil {
		return false, wrapDBError("import insert event", err)
	}

	now := formatTime(nowFunc())
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO embedding_outbox (event_id, content, status, attempt_count, last_error, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, '', ?, ?)
	`, e.ID, e.Content, now, now); err != nil {
		return false, wrapDBError("import insert outbox item", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return false, wrapDBError("import commit", err)
	}
	committed = true
	return true, nil
}

func dedupeKeyOf(e *types.Event) string {
	return dedupeKey(canonicalKey(e.EventType, e.SessionID, e.Content), e.Timestamp)
}

// BackfillTurnIDs assigns turn_id to events that lack one, grouping each
// session's events into turns that start at a user_prompt and run through
// the following tool_observations and agent_response. Events preceding the
// first user_prompt in a session (orphaned tool output, imported history)
// get their own turn.
func (s *Store) BackfillTurnIDs(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, timestamp FROM events WHERE turn_id = '' ORDER BY session_id, timestamp ASC`)
	if err != nil {
		return 0, wrapDBError("backfill query", err)
	}

	type pending struct {
		id, sessionID, eventType string
	}
	var items []pending
	for rows.Next() {
		var p pending
		var ts string
		if err := rows.Scan(&p.id, &p.sessionID, &p.eventType, &ts); err != nil {
			rows.Close()
			return 0, wrapDBError("backfill scan", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, wrapDBError("backfill iterate", err)
	}
	rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapDBError("backfill begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET turn_id = ? WHERE id = ?`)
	if err != nil {
		return 0, wrapDBError("backfill prepare", err)
	}
	defer stmt.Close()

	var (
		currentSession string
		currentTurn    string
		updated        int
	)
	for _, p := range items {
		if p.sessionID != currentSession {
			currentSession = p.sessionID
			currentTurn = uuid.NewString()
		}
		if types.EventType(p.eventType) == types.EventUserPrompt {
			currentTurn = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, currentTurn, p.id); err != nil {
			return 0, wrapDBError("backfill update", err)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapDBError("backfill commit", err)
	}
	return updated, nil
}
