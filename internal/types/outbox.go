package types

import "time"

// OutboxStatus is the lifecycle state of an embedding outbox row.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxDone       OutboxStatus = "done"
	OutboxFailed     OutboxStatus = "failed"
)

// OutboxItem is a transactional queue entry written atomically with its
// source event (same commit) to guarantee eventual application to the
// vector store. State transitions follow pending -> processing -> (done |
// failed); failed rows with AttemptCount < max_retries may return to
// pending via operator action or periodic scan.
type OutboxItem struct {
	ID            int64
	EventID       string
	Content       string
	Status        OutboxStatus
	AttemptCount  int
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
