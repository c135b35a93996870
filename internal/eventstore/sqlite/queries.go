package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/types"
)

const eventColumns = `rowid, id, event_type, session_id, turn_id, timestamp, content, canonical_key, dedupe_key, metadata, level, access_count, last_accessed_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*types.Event, error) {
	var (
		e            types.Event
		metadataJSON string
		ts           string
		lastAccessed sql.NullString
	)
	if err := row.Scan(&e.Rowid, &e.ID, &e.EventType, &e.SessionID, &e.TurnID, &ts, &e.Content,
		&e.CanonicalKey, &e.DedupeKey, &metadataJSON, &e.Level, &e.AccessCount, &lastAccessed); err != nil {
		return nil, err
	}
	parsed, err := parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse timestamp: %w", err)
	}
	e.Timestamp = parsed
	e.LastAccessedAt = parseNullTime(lastAccessed)

	md := types.Metadata{}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &md); err != nil {
			return nil, fmt.Errorf("eventstore: parse metadata: %w", err)
		}
	}
	e.Metadata = md
	return &e, nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", cmlerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, wrapDBError("get event", err)
	}
	return e, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query events", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("iterate events", err)
	}
	return out, nil
}

func (s *Store) GetSessionEvents(ctx context.Context, sessionID string) ([]*types.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
}

func (s *Store) GetRecent(ctx context.Context, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
}

func (s *Store) GetEventsByLevel(ctx context.Context, level types.MemoryLevel, filter types.EventFilter) ([]*types.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE level = ? ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		string(level), limit, filter.Offset)
}

func (s *Store) GetEventsByTurn(ctx context.Context, turnID string) ([]*types.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE turn_id = ? ORDER BY timestamp ASC`, turnID)
}

func (s *Store) SetMemoryLevel(ctx context.Context, eventID string, level types.MemoryLevel) error {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET level = ? WHERE id = ?`, string(level), eventID)
	if err != nil {
		return wrapDBError("set memory level", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("set memory level rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: event %s", cmlerr.ErrNotFound, eventID)
	}
	return nil
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, wrapDBError("count events", err)
	}
	return n, nil
}

func (s *Store) CountUnleveled(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE level = ''`).Scan(&n); err != nil {
		return 0, wrapDBError("count unleveled events", err)
	}
	return n, nil
}

func (s *Store) LevelUnleveled(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE events SET level = ? WHERE level = ''`, string(types.LevelRaw))
	if err != nil {
		return 0, wrapDBError("level unleveled events", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("level unleveled rows affected", err)
	}
	return int(n), nil
}

func (s *Store) TouchAccess(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		formatTime(nowFunc()), eventID)
	if err != nil {
		return wrapDBError("touch access", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("touch access rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: event %s", cmlerr.ErrNotFound, eventID)
	}
	return nil
}
