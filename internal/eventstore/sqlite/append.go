package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/types"
)

// MaxContentBytes bounds Append's content size; exceeding it is a
// ValidationError per spec.md §4.1.
const MaxContentBytes = 1 << 20

// MaxFutureSkew is the maximum amount a client-supplied timestamp may lead
// the server clock before Append rejects it.
const MaxFutureSkew = time.Hour

// Append inserts event -> memory_levels("L0") -> embedding_outbox in a
// single IMMEDIATE transaction (spec.md §4.1 "Persistence rules"),
// returning the existing id with IsDuplicate=true on a dedupe_key
// collision rather than writing a second row.
func (s *Store) Append(ctx context.Context, in types.AppendInput) (types.AppendResult, error) {
	if !types.ValidEventType(in.EventType) {
		return types.AppendResult{}, fmt.Errorf("%w: unknown event_type %q", cmlerr.ErrValidation, in.EventType)
	}
	if in.SessionID == "" {
		return types.AppendResult{}, fmt.Errorf("%w: session_id must not be empty", cmlerr.ErrValidation)
	}
	if len(in.Content) > MaxContentBytes {
		return types.AppendResult{}, fmt.Errorf("%w: content exceeds %d bytes", cmlerr.ErrValidation, MaxContentBytes)
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = nowFunc()
	}
	if ts.After(nowFunc().Add(MaxFutureSkew)) {
		return types.AppendResult{}, fmt.Errorf("%w: timestamp %s is more than %s in the future", cmlerr.ErrValidation, ts, MaxFutureSkew)
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	canon := canonicalKey(in.EventType, in.SessionID, in.Content)
	dk := dedupeKey(canon, ts)

	metadataJSON, err := json.Marshal(metadataOrEmpty(in.Metadata))
	if err != nil {
		return types.AppendResult{}, fmt.Errorf("%w: marshal metadata: %v", cmlerr.ErrValidation, err)
	}

	// A dedicated connection is required: BEGIN IMMEDIATE / COMMIT must
	// run on the same physical connection, which database/sql's pool
	// would not otherwise guarantee. Modeled on the teacher's CreateIssue.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return types.AppendResult{}, fmt.Errorf("eventstore: acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return types.AppendResult{}, fmt.Errorf("eventstore: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// Dedupe check first: a prior committed event with the same
	// dedupe_key wins outright (E2).
	var existingID string
	err = conn.QueryRowContext(ctx, `SELECT id FROM events WHERE dedupe_key = ?`, dk).Scan(&existingID)
	switch {
	case err == nil:
		_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		committed = true // nothing to commit; rollback already issued
		return types.AppendResult{ID: existingID, Success: true, IsDuplicate: true}, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return types.AppendResult{}, wrapDBError("check dedupe", err)
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO events (id, event_type, session_id, turn_id, timestamp, content, canonical_key, dedupe_key, metadata, level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'L0')
	`, id, string(in.EventType), in.SessionID, in.TurnID, formatTime(ts), in.Content, canon, dk, string(metadataJSON)); err != nil {
		return types.AppendResult{}, wrapDBError("insert event", err)
	}

	now := formatTime(nowFunc())
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO embedding_outbox (event_id, content, status, attempt_count, last_error, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, '', ?, ?)
	`, id, in.Content, now, now); err != nil {
		return types.AppendResult{}, wrapDBError("insert outbox item", err)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return types.AppendResult{}, wrapDBError("commit append", err)
	}
	committed = true

	return types.AppendResult{ID: id, Success: true, IsDuplicate: false}, nil
}

func metadataOrEmpty(m types.Metadata) types.Metadata {
	if m == nil {
		return types.Metadata{}
	}
	return m
}

// beginImmediateWithRetry issues BEGIN IMMEDIATE, retrying on SQLITE_BUSY
// with exponential backoff. database/sql's BeginTx doesn't support
// transaction modes, so the raw statement is required; the retry loop
// compensates for busy_timeout alone being insufficient under contention,
// modeled on the teacher's internal/storage/sqlite/queries.go.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && isBusyError(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
