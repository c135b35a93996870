package workingset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cml-project/cml/internal/eventstore"
	"github.com/cml-project/cml/internal/types"
)

// Report summarizes one consolidation run, per spec.md §4.5.
type Report struct {
	ConsolidatedCount   int
	PromotedRuleCount   int
	BeforeTokenEstimate int
	AfterTokenEstimate  int
	ReductionRatio      float64
	QualityGuardPassed  bool
}

// TriggerConfig governs when ConsolidationWorker.MaybeRun should fire.
type TriggerConfig struct {
	EventCount   int
	Interval     time.Duration
	IdleGap      time.Duration
	MinSimilarity float64
	RuleThreshold float64
	MinRecurrences int
	MinCoverage  float64
}

// ConsolidationWorker clusters the working set by lexical topic overlap
// and folds each qualifying cluster into a ConsolidatedMemory, promoting
// a Rule when a topic set recurs often enough at high confidence.
type ConsolidationWorker struct {
	set     *Set
	store   eventstore.Store
	cfg     TriggerConfig
	log     *slog.Logger
	nowFunc func() time.Time

	mu              sync.Mutex
	eventsSinceRun  int
	lastRunAt       time.Time
	lastEventAt     time.Time
}

func NewConsolidationWorker(set *Set, store eventstore.Store, cfg TriggerConfig, log *slog.Logger) *ConsolidationWorker {
	now := time.Now()
	return &ConsolidationWorker{set: set, store: store, cfg: cfg, log: log, nowFunc: time.Now, lastRunAt: now, lastEventAt: now}
}

// NoteEvent records that an event landed in the working set, for the
// event-count and idle-gap trigger conditions.
func (w *ConsolidationWorker) NoteEvent() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.eventsSinceRun++
	w.lastEventAt = w.nowFunc()
}

// ShouldRun reports whether any of the three trigger conditions in
// spec.md §4.5 currently hold.
func (w *ConsolidationWorker) ShouldRun() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.nowFunc()
	if w.eventsSinceRun >= w.cfg.EventCount {
		return true
	}
	if now.Sub(w.lastRunAt) >= w.cfg.Interval {
		return true
	}
	if now.Sub(w.lastEventAt) >= w.cfg.IdleGap && w.eventsSinceRun > 0 {
		return true
	}
	return false
}

// Run executes one consolidation pass unconditionally; callers gate on
// ShouldRun themselves so tests can force a run.
func (w *ConsolidationWorker) Run(ctx context.Context) (Report, error) {
	entries := w.set.Entries()
	clusters := clusterByTopic(entries, w.cfg.MinSimilarity)

	var report Report
	report.QualityGuardPassed = true

	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		before := estimateTokens(cluster)
		report.BeforeTokenEstimate += before

		summary, coverage := summarizeCluster(cluster)
		if coverage < w.cfg.MinCoverage {
			report.QualityGuardPassed = false
		}

		sourceIDs := eventIDs(cluster)
		hash := sourceSetHash(sourceIDs)
		confidence := coherence(cluster) * coverage

		mem := types.ConsolidatedMemory{
			Summary:        summary,
			Topics:         clusterTopics(cluster),
			SourceEventIDs: sourceIDs,
			SourceSetHash:  hash,
			Confidence:     confidence,
		}

		stored, inserted, err := w.store.UpsertConsolidatedMemory(ctx, mem)
		if err != nil {
			return report, fmt.Errorf("workingset: upsert consolidated memory: %w", err)
		}
		if inserted {
			report.ConsolidatedCount++
			w.set.Remove(ctx, sourceIDs)
			for _, id := range sourceIDs {
				_ = w.store.SetMemoryLevel(ctx, id, types.LevelConsolidated)
			}
			report.AfterTokenEstimate += estimateTokenCount(stored.Summary)
		} else {
			report.AfterTokenEstimate += estimateTokenCount(stored.Summary)
		}

		if inserted && stored.Confidence >= w.cfg.RuleThreshold {
			promoted, err := w.maybePromoteRule(ctx, stored)
			if err != nil {
				return report, err
			}
			if promoted {
				report.PromotedRuleCount++
			}
		}

		if w.log != nil {
			w.log.Info("consolidation cluster processed",
				"memory_id", stored.MemoryID, "inserted", inserted, "confidence", stored.Confidence, "coverage", coverage)
		}
	}

	if report.BeforeTokenEstimate > 0 {
		report.ReductionRatio = 1 - float64(report.AfterTokenEstimate)/float64(report.BeforeTokenEstimate)
	}

	w.mu.Lock()
	w.eventsSinceRun = 0
	w.lastRunAt = w.nowFunc()
	w.mu.Unlock()

	return report, nil
}

// maybePromoteRule promotes mem to a Rule when its topic set recurs
// across at least MinRecurrences prior consolidations.
func (w *ConsolidationWorker) maybePromoteRule(ctx context.Context, mem types.ConsolidatedMemory) (bool, error) {
	for _, topic := range mem.Topics {
		count, err := w.store.CountConsolidationsByTopic(ctx, topic)
		if err != nil {
			return false, fmt.Errorf("workingset: count recurrences: %w", err)
		}
		// The count includes mem itself, which Run stored before calling here.
		if count-1 < w.cfg.MinRecurrences {
			return false, nil
		}
	}

	text := fmt.Sprintf("When working on %s: %s", strings.Join(mem.Topics, ", "), mem.Summary)
	rule := types.Rule{
		Text:                text,
		SourceMemoryIDs:     []string{mem.MemoryID},
		SourceMemorySetHash: sourceSetHash([]string{mem.MemoryID}),
		Confidence:          mem.Confidence,
	}
	_, inserted, err := w.store.UpsertRule(ctx, rule)
	if err != nil {
		return false, fmt.Errorf("workingset: upsert rule: %w", err)
	}
	return inserted, nil
}

func eventIDs(cluster []Entry) []string {
	out := make([]string, len(cluster))
	for i, e := range cluster {
		out[i] = e.Event.ID
	}
	return out
}

func sourceSetHash(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(strings.Join(sorted, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// estimateTokens is a deterministic stand-in for a tokenizer: roughly 4
// bytes per token, matching common English-text heuristics.
func estimateTokens(cluster []Entry) int {
	total := 0
	for _, e := range cluster {
		total += estimateTokenCount(e.Event.Content)
	}
	return total
}

func estimateTokenCount(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
