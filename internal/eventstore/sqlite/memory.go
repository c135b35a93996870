package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cml-project/cml/internal/types"
)

// UpsertConsolidatedMemory is idempotent on source_set_hash: a second
// call with the same hash returns the row already on disk, per the
// consolidation algorithm's "not already produced for this source_event_ids
// set" check.
func (s *Store) UpsertConsolidatedMemory(ctx context.Context, m types.ConsolidatedMemory) (types.ConsolidatedMemory, bool, error) {
	if existing, err := s.getConsolidatedMemoryByHash(ctx, m.SourceSetHash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return types.ConsolidatedMemory{}, false, wrapDBError("lookup consolidated memory", err)
	}

	if m.MemoryID == "" {
		m.MemoryID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowFunc()
	}
	topicsJSON, err := json.Marshal(m.Topics)
	if err != nil {
		return types.ConsolidatedMemory{}, false, fmt.Errorf("eventstore: marshal topics: %w", err)
	}
	sourceJSON, err := json.Marshal(m.SourceEventIDs)
	if err != nil {
		return types.ConsolidatedMemory{}, false, fmt.Errorf("eventstore: marshal source_event_ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consolidated_memories (memory_id, summary, topics, source_event_ids, source_set_hash, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_set_hash) DO NOTHING
	`, m.MemoryID, m.Summary, string(topicsJSON), string(sourceJSON), m.SourceSetHash, m.Confidence, formatTime(m.CreatedAt))
	if err != nil {
		return types.ConsolidatedMemory{}, false, wrapDBError("insert consolidated memory", err)
	}
	return m, true, nil
}

func (s *Store) getConsolidatedMemoryByHash(ctx context.Context, hash string) (types.ConsolidatedMemory, error) {
	var (
		m          types.ConsolidatedMemory
		topicsJSON string
		sourceJSON string
		createdAt  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, summary, topics, source_event_ids, source_set_hash, confidence, created_at
		FROM consolidated_memories WHERE source_set_hash = ?
	`, hash).Scan(&m.MemoryID, &m.Summary, &topicsJSON, &sourceJSON, &m.SourceSetHash, &m.Confidence, &createdAt)
	if err != nil {
		return types.ConsolidatedMemory{}, err
	}
	if err := json.Unmarshal([]byte(topicsJSON), &m.Topics); err != nil {
		return types.ConsolidatedMemory{}, fmt.Errorf("eventstore: parse topics: %w", err)
	}
	if err := json.Unmarshal([]byte(sourceJSON), &m.SourceEventIDs); err != nil {
		return types.ConsolidatedMemory{}, fmt.Errorf("eventstore: parse source_event_ids: %w", err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return types.ConsolidatedMemory{}, fmt.Errorf("eventstore: parse created_at: %w", err)
	}
	m.CreatedAt = ts
	return m, nil
}

// CountConsolidationsByTopic counts all stored consolidated memories whose
// topic set contains topic, backing the rule-promotion recurrence check.
func (s *Store) CountConsolidationsByTopic(ctx context.Context, topic string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consolidated_memories WHERE topics LIKE ?`, `%"`+topic+`"%`).Scan(&n)
	if err != nil {
		return 0, wrapDBError("count consolidations by topic", err)
	}
	return n, nil
}

func (s *Store) UpsertRule(ctx context.Context, r types.Rule) (types.Rule, bool, error) {
	if existing, err := s.getRuleByHash(ctx, r.SourceMemorySetHash); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return types.Rule{}, false, wrapDBError("lookup rule", err)
	}

	if r.RuleID == "" {
		r.RuleID = uuid.NewString()
	}
	sourceJSON, err := json.Marshal(r.SourceMemoryIDs)
	if err != nil {
		return types.Rule{}, false, fmt.Errorf("eventstore: marshal source_memory_ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (rule_id, text, source_memory_ids, source_memory_set_hash, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_memory_set_hash) DO NOTHING
	`, r.RuleID, r.Text, string(sourceJSON), r.SourceMemorySetHash, r.Confidence)
	if err != nil {
		return types.Rule{}, false, wrapDBError("insert rule", err)
	}
	return r, true, nil
}

func (s *Store) getRuleByHash(ctx context.Context, hash string) (types.Rule, error) {
	var (
		r          types.Rule
		sourceJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT rule_id, text, source_memory_ids, source_memory_set_hash, confidence
		FROM rules WHERE source_memory_set_hash = ?
	`, hash).Scan(&r.RuleID, &r.Text, &sourceJSON, &r.SourceMemorySetHash, &r.Confidence)
	if err != nil {
		return types.Rule{}, err
	}
	if err := json.Unmarshal([]byte(sourceJSON), &r.SourceMemoryIDs); err != nil {
		return types.Rule{}, fmt.Errorf("eventstore: parse source_memory_ids: %w", err)
	}
	return r, nil
}
