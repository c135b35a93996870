package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cml-project/cml/internal/types"
)

// ClaimBatch selects up to n pending rows and flips them to processing in
// one transaction, so two worker instances (or a worker racing its own
// crash-recovery pass) never claim the same row. Modeled on the teacher's
// markIssuesDirtyTx: select-then-update inside a single tx rather than a
// SELECT ... FOR UPDATE, which SQLite doesn't support.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]types.OutboxItem, error) {
	if n <= 0 {
		n = 20
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("claim batch begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, content, status, attempt_count, last_error, created_at, updated_at
		 FROM embedding_outbox WHERE status = 'pending' ORDER BY id ASC LIMIT ?`, n)
	if err != nil {
		return nil, wrapDBError("claim batch select", err)
	}
	items, err := scanOutboxItems(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	now := formatTime(nowFunc())
	ids := make([]int64, len(items))
	for i := range items {
		ids[i] = items[i].ID
		items[i].Status = types.OutboxProcessing
		items[i].UpdatedAt, _ = parseTime(now)
	}
	placeholders, args := idPlaceholders(ids)
	args = append([]interface{}{now}, args...)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE embedding_outbox SET status = 'processing', updated_at = ? WHERE id IN (%s)`, placeholders),
		args...); err != nil {
		return nil, wrapDBError("claim batch update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("claim batch commit", err)
	}
	return items, nil
}

func scanOutboxItems(rows *sql.Rows) ([]types.OutboxItem, error) {
	var out []types.OutboxItem
	for rows.Next() {
		var (
			it        types.OutboxItem
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&it.ID, &it.EventID, &it.Content, &it.Status, &it.AttemptCount, &it.LastError, &createdAt, &updatedAt); err != nil {
			return nil, wrapDBError("scan outbox item", err)
		}
		var err error
		if it.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("eventstore: parse outbox created_at: %w", err)
		}
		if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("eventstore: parse outbox updated_at: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func idPlaceholders(ids []int64) (string, []interface{}) {
	ph := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return strings.Join(ph, ","), args
}

func (s *Store) Complete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := idPlaceholders(ids)
	args = append([]interface{}{formatTime(nowFunc())}, args...)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE embedding_outbox SET status = 'done', updated_at = ? WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return wrapDBError("complete outbox items", err)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, ids []int64, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, idArgs := idPlaceholders(ids)
	args := append([]interface{}{reason, formatTime(nowFunc())}, idArgs...)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE embedding_outbox SET status = 'failed', attempt_count = attempt_count + 1, last_error = ?, updated_at = ? WHERE id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return wrapDBError("fail outbox items", err)
	}
	return nil
}

func (s *Store) ResetStale(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE embedding_outbox SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`,
		formatTime(nowFunc()), formatTime(olderThan))
	if err != nil {
		return 0, wrapDBError("reset stale outbox items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("reset stale rows affected", err)
	}
	return int(n), nil
}

func (s *Store) RetryFailed(ctx context.Context, maxRetries int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE embedding_outbox SET status = 'pending', updated_at = ? WHERE status = 'failed' AND attempt_count < ?`,
		formatTime(nowFunc()), maxRetries)
	if err != nil {
		return 0, wrapDBError("retry failed outbox items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("retry failed rows affected", err)
	}
	return int(n), nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (*types.Event, error) {
	return s.Get(ctx, eventID)
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.countOutboxByStatus(ctx, types.OutboxPending)
}

func (s *Store) FailedCount(ctx context.Context) (int, error) {
	return s.countOutboxByStatus(ctx, types.OutboxFailed)
}

func (s *Store) countOutboxByStatus(ctx context.Context, status types.OutboxStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_outbox WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count outbox by status", err)
	}
	return n, nil
}
