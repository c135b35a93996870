package types

import "time"

// VectorSearchHit is one ranked result from VectorStore.Search.
type VectorSearchHit struct {
	ID        string
	EventID   string
	Score     float64 // cosine similarity, [-1, 1]
	Content   string
	EventType EventType
	Timestamp time.Time
	SessionID string
}
