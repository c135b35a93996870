package types

import "time"

// ConsolidatedMemory is a derived summary over a cluster of source events.
type ConsolidatedMemory struct {
	MemoryID      string
	Summary       string
	Topics        []string
	SourceEventIDs []string
	SourceSetHash string // identity of SourceEventIDs, for idempotent re-runs
	Confidence    float64
	CreatedAt     time.Time
}

// Rule is a promoted, high-confidence generalization over consolidated
// memories. At most one rule is promoted per source memory.
type Rule struct {
	RuleID             string
	Text               string
	SourceMemoryIDs    []string
	SourceMemorySetHash string
	Confidence         float64
}

// SharedTroubleshootingEntry is cross-project troubleshooting knowledge
// promoted from a locally-verified entry, unique on
// (SourceProjectHash, SourceEntryID).
type SharedTroubleshootingEntry struct {
	EntryID          string
	SourceProjectHash string
	SourceEntryID    string
	Title            string
	Symptoms         []string
	RootCause        string
	Solution         string
	Topics           []string
	Technologies     []string
	Confidence       float64
	UsageCount       int
	LastUsedAt       *time.Time
	PromotedAt       time.Time
}

// VectorRecord is the payload stored in the vector index.
type VectorRecord struct {
	ID        string
	EventID   string
	SessionID string
	EventType EventType
	Content   string
	Vector    []float32
	Timestamp time.Time
	Metadata  Metadata
}

// TransitionType classifies a continuity score.
type TransitionType string

const (
	TransitionSeamless  TransitionType = "seamless"
	TransitionTopicShift TransitionType = "topic_shift"
	TransitionBreak     TransitionType = "break"
)

// ContinuityLog records one computed transition between two context
// snapshots.
type ContinuityLog struct {
	LogID          string
	FromContextID  string
	ToContextID    string
	Score          float64
	TransitionType TransitionType
	CreatedAt      time.Time
}

// ContextSnapshot is the lexical fingerprint of a point in a conversation.
type ContextSnapshot struct {
	ID        string
	Timestamp time.Time
	Topics    []string
	Files     []string
	Entities  []string
}
