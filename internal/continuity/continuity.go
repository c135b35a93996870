// Package continuity implements the Continuity Manager (C8): lexical
// context-snapshot extraction and a decayed-Jaccard transition score
// between the previous and current conversational context.
package continuity

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transition classifies how related the new context is to the last one.
type Transition string

const (
	TransitionSeamless  Transition = "seamless"
	TransitionTopicShift Transition = "topic_shift"
	TransitionBreak     Transition = "break"
)

const (
	maxTopics   = 10
	maxFiles    = 10
	maxEntities = 20
)

var (
	filePathRe = regexp.MustCompile(`\b[\w./-]+\.[a-zA-Z]{1,6}\b`)
	entityRe   = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]{2,}\b`)
	topicRe    = regexp.MustCompile(`[a-zA-Z0-9_]{3,}`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true,
	"that": true, "from": true, "have": true, "has": true, "was": true,
	"were": true, "will": true, "are": true, "you": true, "your": true,
}

// ContextSnapshot is the lexical fingerprint of a conversational turn.
type ContextSnapshot struct {
	ID        string
	Timestamp time.Time
	Topics    []string
	Files     []string
	Entities  []string
}

// Config governs decay and transition thresholds, mirroring
// internal/config.Config's continuity fields.
type Config struct {
	DecayHours          float64
	MinScoreForSeamless float64
}

// Score reports a transition's computed score and its subscores, logged
// verbatim at info level so an offline reviewer can see why a transition
// was classified the way it was.
type Score struct {
	Total          float64
	TopicJaccard   float64
	FileJaccard    float64
	TimeDecay      float64
	EntityJaccard  float64
	Transition     Transition
}

// Manager tracks the last observed ContextSnapshot and scores the
// transition into each new one.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	nowFunc func() time.Time

	mu   sync.Mutex
	last *ContextSnapshot
}

func New(cfg Config, log *slog.Logger) *Manager {
	return &Manager{cfg: cfg, log: log, nowFunc: time.Now}
}

// ExtractSnapshot builds a ContextSnapshot from raw turn content via
// lexical pattern matching, deduplicating and capping each field.
func ExtractSnapshot(content string) ContextSnapshot {
	now := time.Now()
	return ContextSnapshot{
		ID:        uuid.NewString(),
		Timestamp: now,
		Topics:    capped(lowerDedup(topicRe.FindAllString(content, -1), stopwords), maxTopics),
		Files:     capped(lowerDedup(filePathRe.FindAllString(content, -1), nil), maxFiles),
		Entities:  capped(lowerDedup(entityRe.FindAllString(content, -1), nil), maxEntities),
	}
}

// Observe scores the transition from the manager's last snapshot into
// snap, logs it, and stores snap as the new "last context."
func (m *Manager) Observe(ctx context.Context, snap ContextSnapshot) Score {
	m.mu.Lock()
	prev := m.last
	m.mu.Unlock()

	var score Score
	if prev == nil {
		score = Score{Total: 1, Transition: TransitionSeamless}
	} else {
		score = m.score(*prev, snap)
	}

	if m.log != nil {
		m.log.Info("continuity transition",
			"transition", score.Transition,
			"total", score.Total,
			"topic_jaccard", score.TopicJaccard,
			"file_jaccard", score.FileJaccard,
			"time_decay", score.TimeDecay,
			"entity_jaccard", score.EntityJaccard,
		)
	}

	m.mu.Lock()
	m.last = &snap
	m.mu.Unlock()

	return score
}

func (m *Manager) score(prev, cur ContextSnapshot) Score {
	topicJ := jaccard(prev.Topics, cur.Topics)
	fileJ := jaccard(prev.Files, cur.Files)
	entityJ := jaccard(prev.Entities, cur.Entities)

	deltaMS := float64(cur.Timestamp.Sub(prev.Timestamp).Milliseconds())
	if deltaMS < 0 {
		deltaMS = 0
	}
	decayMS := m.cfg.DecayHours * 3_600_000
	timeDecay := 1.0
	if decayMS > 0 {
		timeDecay = math.Exp(-deltaMS / decayMS)
	}

	total := 0.3*topicJ + 0.2*fileJ + 0.3*timeDecay + 0.2*entityJ

	transition := TransitionBreak
	switch {
	case total >= m.cfg.MinScoreForSeamless:
		transition = TransitionSeamless
	case total >= 0.4:
		transition = TransitionTopicShift
	}

	return Score{
		Total: total, TopicJaccard: topicJ, FileJaccard: fileJ,
		TimeDecay: timeDecay, EntityJaccard: entityJ, Transition: transition,
	}
}

func lowerDedup(items []string, exclude map[string]bool) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		lower := strings.ToLower(it)
		if exclude[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	sort.Strings(out)
	return out
}

func capped(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}

// jaccard computes |a ∩ b| / |a ∪ b|. Two empty sets are vacuously
// identical (union is empty, nothing to disagree on), so they score 1 —
// otherwise a field that's absent from both snapshots would drag an
// otherwise-identical transition's score down instead of being neutral.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	inter := 0
	for _, s := range b {
		if setA[s] {
			inter++
		}
	}
	union := len(setA)
	for _, s := range b {
		if !setA[s] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
