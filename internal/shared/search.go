package shared

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/types"
)

// SearchText fans a LIKE search out over title/root_cause/solution,
// floored at minConfidence, ranked by confidence desc then usage_count
// desc.
func (s *Store) SearchText(ctx context.Context, query string, minConfidence float64, limit int) ([]types.SharedTroubleshootingEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, source_project_hash, source_entry_id, title, symptoms, root_cause, solution,
		       topics, technologies, confidence, usage_count, last_used_at, promoted_at
		FROM shared_troubleshooting
		WHERE confidence >= ? AND (title LIKE ? OR root_cause LIKE ? OR solution LIKE ?)
		ORDER BY confidence DESC, usage_count DESC
		LIMIT ?
	`, minConfidence, like, like, like, limit)
	if err != nil {
		return nil, cmlerr.Wrap("shared: search text", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SearchTopic searches entries whose topics list contains topic,
// optionally excluding entries sourced from excludeProjectHash.
func (s *Store) SearchTopic(ctx context.Context, topic, excludeProjectHash string, limit int) ([]types.SharedTroubleshootingEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	like := `%"` + topic + `"%`
	query := `
		SELECT entry_id, source_project_hash, source_entry_id, title, symptoms, root_cause, solution,
		       topics, technologies, confidence, usage_count, last_used_at, promoted_at
		FROM shared_troubleshooting
		WHERE topics LIKE ?`
	args := []interface{}{like}
	if excludeProjectHash != "" {
		query += ` AND source_project_hash != ?`
		args = append(args, excludeProjectHash)
	}
	query += ` ORDER BY confidence DESC, usage_count DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cmlerr.Wrap("shared: search topic", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]types.SharedTroubleshootingEntry, error) {
	var out []types.SharedTroubleshootingEntry
	for rows.Next() {
		var (
			e            types.SharedTroubleshootingEntry
			symptomsJSON string
			topicsJSON   string
			techJSON     string
			lastUsed     sql.NullString
			promotedAt   string
		)
		if err := rows.Scan(&e.EntryID, &e.SourceProjectHash, &e.SourceEntryID, &e.Title, &symptomsJSON, &e.RootCause, &e.Solution,
			&topicsJSON, &techJSON, &e.Confidence, &e.UsageCount, &lastUsed, &promotedAt); err != nil {
			return nil, cmlerr.Wrap("shared: scan entry", err)
		}
		_ = json.Unmarshal([]byte(symptomsJSON), &e.Symptoms)
		_ = json.Unmarshal([]byte(topicsJSON), &e.Topics)
		_ = json.Unmarshal([]byte(techJSON), &e.Technologies)
		if lastUsed.Valid && lastUsed.String != "" {
			if t, err := time.Parse(time.RFC3339Nano, lastUsed.String); err == nil {
				e.LastUsedAt = &t
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, promotedAt); err == nil {
			e.PromotedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordUsage increments usage_count and refreshes last_used_at for
// entryID. Nothing in the module calls it; the retriever does not search
// the shared store.
func (s *Store) RecordUsage(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE shared_troubleshooting SET usage_count = usage_count + 1, last_used_at = ? WHERE entry_id = ?`,
		s.nowFunc().UTC().Format(time.RFC3339Nano), entryID)
	if err != nil {
		return cmlerr.Wrap("shared: record usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cmlerr.Wrap("shared: record usage rows affected", err)
	}
	if n == 0 {
		return cmlerr.Wrap("shared: record usage", sql.ErrNoRows)
	}
	return nil
}
