// Package shared implements the Shared Store & Promoter (C6):
// confidence-gated promotion of locally-verified troubleshooting entries
// into cross-project knowledge, with max-merge-on-conflict idempotence
// and a promoted-event notification fan-out.
package shared

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/embedder"
	"github.com/cml-project/cml/internal/types"
	"github.com/cml-project/cml/internal/vectorstore"
)

// Publisher fans out a promotion notification; nil disables it.
type Publisher interface {
	PublishEntryPromoted(ctx context.Context, entry types.SharedTroubleshootingEntry) error
}

// Store is the shared_troubleshooting table's owner: promotion
// eligibility, max-merge conflict resolution, search, and usage
// recording.
type Store struct {
	db         *sql.DB
	vecStore   vectorstore.Store
	embed      embedder.Embedder
	publisher  Publisher
	nowFunc    func() time.Time
	minConfidenceForPromotion float64
}

// Option configures New.
type Option func(*Store)

func WithVectorStore(vs vectorstore.Store) Option { return func(s *Store) { s.vecStore = vs } }
func WithEmbedder(e embedder.Embedder) Option     { return func(s *Store) { s.embed = e } }
func WithPublisher(p Publisher) Option            { return func(s *Store) { s.publisher = p } }

// New wraps db (the shared event store's *sql.DB, which already carries
// the shared_troubleshooting table) for promotion and search.
func New(db *sql.DB, minConfidenceForPromotion float64, opts ...Option) *Store {
	s := &Store{db: db, nowFunc: time.Now, minConfidenceForPromotion: minConfidenceForPromotion}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eligible reports whether c meets spec.md §4.6's promotion gate.
func (s *Store) Eligible(c types.PromotionCandidate) bool {
	return c.EventType == "troubleshooting" &&
		(c.Stage == "verified" || c.Stage == "certified") &&
		c.Status == "active" &&
		c.Confidence >= s.minConfidenceForPromotion
}

// Promote writes or max-merges c into shared_troubleshooting, keyed on
// (source_project_hash, source_entry_id). Calling Promote twice with
// identical input is idempotent: the stored row's confidence becomes
// max(old, new) and every other field is refreshed from the newer call,
// with no duplicate shared-vector record emitted.
func (s *Store) Promote(ctx context.Context, projectHash string, c types.PromotionCandidate) (types.PromotionResult, error) {
	if !s.Eligible(c) {
		return types.PromotionResult{SkipReason: "not eligible"}, nil
	}

	existing, err := s.getByProjectEntry(ctx, projectHash, c.EntryID)
	switch {
	case err == nil:
		if c.Confidence <= existing.Confidence {
			return types.PromotionResult{Entry: existing, SkipReason: "existing confidence is not lower"}, nil
		}
	case errors.Is(err, sql.ErrNoRows):
		// first promotion
	default:
		return types.PromotionResult{}, cmlerr.Wrap("shared: lookup existing", err)
	}

	confidence := c.Confidence
	if existing.Confidence > confidence {
		confidence = existing.Confidence
	}

	entryID := existing.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}

	entry := types.SharedTroubleshootingEntry{
		EntryID:           entryID,
		SourceProjectHash: projectHash,
		SourceEntryID:     c.EntryID,
		Title:             c.Title,
		Symptoms:          c.Symptoms,
		RootCause:         c.RootCause,
		Solution:          c.Solution,
		Topics:            c.Topics,
		Technologies:      c.Technologies,
		Confidence:        confidence,
		UsageCount:        existing.UsageCount,
		LastUsedAt:        existing.LastUsedAt,
		PromotedAt:        s.nowFunc(),
	}

	if err := s.upsert(ctx, entry); err != nil {
		return types.PromotionResult{}, err
	}

	if s.vecStore != nil && s.embed != nil {
		if err := s.emitSharedVector(ctx, entry); err != nil {
			return types.PromotionResult{Entry: entry, Promoted: true}, fmt.Errorf("shared: emit shared vector: %w", err)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishEntryPromoted(ctx, entry); err != nil {
			// Fire-and-forget per spec.md §4.6's expansion: promotion is
			// already durable, so a notification failure doesn't unwind it.
		}
	}

	return types.PromotionResult{Entry: entry, Promoted: true}, nil
}

func (s *Store) emitSharedVector(ctx context.Context, entry types.SharedTroubleshootingEntry) error {
	payload := canonicalizePayload(entry)
	vec, err := s.embed.Embed(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", cmlerr.ErrEmbedder, err)
	}
	return s.vecStore.Upsert(ctx, types.VectorRecord{
		ID:        entry.EntryID,
		EventID:   entry.EntryID,
		SessionID: entry.SourceProjectHash,
		Content:   payload,
		Vector:    vec,
		Timestamp: entry.PromotedAt,
	})
}

func canonicalizePayload(e types.SharedTroubleshootingEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", e.Title)
	fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(e.Symptoms, "; "))
	fmt.Fprintf(&b, "Root cause: %s\n", e.RootCause)
	fmt.Fprintf(&b, "Solution: %s\n", e.Solution)
	fmt.Fprintf(&b, "Topics: %s\n", strings.Join(e.Topics, ", "))
	fmt.Fprintf(&b, "Technologies: %s\n", strings.Join(e.Technologies, ", "))
	return b.String()
}

func (s *Store) getByProjectEntry(ctx context.Context, projectHash, sourceEntryID string) (types.SharedTroubleshootingEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, source_project_hash, source_entry_id, title, symptoms, root_cause, solution,
		       topics, technologies, confidence, usage_count, last_used_at, promoted_at
		FROM shared_troubleshooting WHERE source_project_hash = ? AND source_entry_id = ?
	`, projectHash, sourceEntryID)
	return scanEntry(row)
}

func scanEntry(row *sql.Row) (types.SharedTroubleshootingEntry, error) {
	var (
		e            types.SharedTroubleshootingEntry
		symptomsJSON string
		topicsJSON   string
		techJSON     string
		lastUsed     sql.NullString
		promotedAt   string
	)
	if err := row.Scan(&e.EntryID, &e.SourceProjectHash, &e.SourceEntryID, &e.Title, &symptomsJSON, &e.RootCause, &e.Solution,
		&topicsJSON, &techJSON, &e.Confidence, &e.UsageCount, &lastUsed, &promotedAt); err != nil {
		return types.SharedTroubleshootingEntry{}, err
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
	return e, nil
}

func (s *Store) upsert(ctx context.Context, e types.SharedTroubleshootingEntry) error {
	symptomsJSON, _ := json.Marshal(e.Symptoms)
	topicsJSON, _ := json.Marshal(e.Topics)
	techJSON, _ := json.Marshal(e.Technologies)

	var lastUsed interface{}
	if e.LastUsedAt != nil {
		lastUsed = e.LastUsedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_troubleshooting
			(entry_id, source_project_hash, source_entry_id, title, symptoms, root_cause, solution,
			 topics, technologies, confidence, usage_count, last_used_at, promoted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_project_hash, source_entry_id) DO UPDATE SET
			title = excluded.title, symptoms = excluded.symptoms, root_cause = excluded.root_cause,
			solution = excluded.solution, topics = excluded.topics, technologies = excluded.technologies,
			confidence = excluded.confidence, promoted_at = excluded.promoted_at
	`, e.EntryID, e.SourceProjectHash, e.SourceEntryID, e.Title, string(symptomsJSON), e.RootCause, e.Solution,
		string(topicsJSON), string(techJSON), e.Confidence, e.UsageCount, lastUsed, e.PromotedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return cmlerr.Wrap("shared: upsert", err)
	}
	return nil
}
