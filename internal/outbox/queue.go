// Package outbox defines the narrow capability interface the vector
// worker (C3) needs against the event store, breaking the cyclic
// reference between EventStore and VectorWorker per the design note in
// spec.md §9: the worker gets claim/complete/fail/get-event, never the
// full Store.
package outbox

import (
	"context"
	"time"

	"github.com/cml-project/cml/internal/types"
)

// Queue is the embedding outbox as seen by the vector worker.
type Queue interface {
	// ClaimBatch atomically claims up to n pending rows, flipping them to
	// processing with a fresh updated_at, and returns them in rowid
	// order.
	ClaimBatch(ctx context.Context, n int) ([]types.OutboxItem, error)

	// Complete marks the given outbox item IDs done.
	Complete(ctx context.Context, ids []int64) error

	// Fail marks the given outbox item IDs failed with reason, and
	// increments their attempt_count.
	Fail(ctx context.Context, ids []int64, reason string) error

	// ResetStale resets processing rows older than olderThan back to
	// pending. Called on worker start to recover from a crash between
	// claim and update.
	ResetStale(ctx context.Context, olderThan time.Time) (int, error)

	// RetryFailed returns failed rows with attempt_count < maxRetries to
	// pending. Used by the periodic retry scan and by operator scripts.
	RetryFailed(ctx context.Context, maxRetries int) (int, error)

	// GetEvent loads the event backing an outbox item, by event ID.
	GetEvent(ctx context.Context, eventID string) (*types.Event, error)

	// PendingCount and FailedCount back the report-sync-gap script.
	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)
}
