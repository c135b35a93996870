package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cml-project/cml/internal/embedder"
	"github.com/cml-project/cml/internal/types"
	"github.com/cml-project/cml/internal/vectorstore"
)

// Config controls batch size, polling cadence, and retry limits, mirroring
// internal/config.Config's outbox fields.
type Config struct {
	BatchSize  int
	Interval   time.Duration
	MaxRetries int
	StaleAfter time.Duration
}

// Worker drains the embedding outbox into the vector store: claim, embed,
// upsert, complete/fail. Modeled on the teacher's outbox.Worker
// (lease-batch-in-tx, per-job handle/markDone/markFailed).
type Worker struct {
	queue Queue
	embed embedder.Embedder
	vec   vectorstore.Store
	cfg   Config
	log   *slog.Logger
}

func NewWorker(queue Queue, embed embedder.Embedder, vec vectorstore.Store, cfg Config, log *slog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Worker{queue: queue, embed: embed, vec: vec, cfg: cfg, log: log}
}

// Run polls the outbox on a ticker (plus an fsnotify wake on dbDir, best
// effort) until ctx is canceled. It resets stale processing rows from a
// prior crash before the first poll.
func (w *Worker) Run(ctx context.Context, dbDir string) error {
	if n, err := w.queue.ResetStale(ctx, time.Now().Add(-w.cfg.StaleAfter)); err != nil {
		if w.log != nil {
			w.log.Warn("outbox: reset stale failed", "error", err)
		}
	} else if n > 0 && w.log != nil {
		w.log.Info("outbox: recovered stale rows", "count", n)
	}

	var watchChan <-chan fsnotify.Event
	if dbDir != "" {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(dbDir); err == nil {
				watchChan = watcher.Events
			}
		}
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	retryTicker := time.NewTicker(w.cfg.StaleAfter)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.processOnce(ctx)
		case _, ok := <-watchChan:
			if !ok {
				watchChan = nil
				continue
			}
			w.processOnce(ctx)
		case <-retryTicker.C:
			if n, err := w.queue.RetryFailed(ctx, w.cfg.MaxRetries); err != nil && w.log != nil {
				w.log.Warn("outbox: retry failed scan error", "error", err)
			} else if n > 0 && w.log != nil {
				w.log.Info("outbox: requeued failed rows", "count", n)
			}
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) {
	items, err := w.queue.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		if w.log != nil {
			w.log.Warn("outbox: claim batch failed", "error", err)
		}
		return
	}
	if len(items) == 0 {
		return
	}

	// embed_batch: one call for the whole claimed batch, per spec's
	// pipeline. A batch-wide embedding failure fails every item in it
	// rather than falling back to per-item calls.
	contents := make([]string, len(items))
	for i, item := range items {
		contents[i] = item.Content
	}
	vecs, err := w.embed.EmbedBatch(ctx, contents)
	if err != nil {
		if w.log != nil {
			w.log.Warn("outbox: embed batch failed", "error", err, "count", len(items))
		}
		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		if err := w.queue.Fail(ctx, ids, "embed batch failed"); err != nil && w.log != nil {
			w.log.Warn("outbox: mark failed failed", "error", err)
		}
		return
	}

	var done, failed []int64
	for i, item := range items {
		if err := w.handle(ctx, item, vecs[i]); err != nil {
			if w.log != nil {
				w.log.Warn("outbox: upsert failed", "event_id", item.EventID, "error", err)
			}
			failed = append(failed, item.ID)
			continue
		}
		done = append(done, item.ID)
	}

	if len(done) > 0 {
		if err := w.queue.Complete(ctx, done); err != nil && w.log != nil {
			w.log.Warn("outbox: mark complete failed", "error", err)
		}
	}
	if len(failed) > 0 {
		if err := w.queue.Fail(ctx, failed, "upsert failed"); err != nil && w.log != nil {
			w.log.Warn("outbox: mark failed failed", "error", err)
		}
	}
}

func (w *Worker) handle(ctx context.Context, item types.OutboxItem, vec []float32) error {
	event, err := w.queue.GetEvent(ctx, item.EventID)
	if err != nil {
		return err
	}
	return w.vec.Upsert(ctx, types.VectorRecord{
		ID:        event.ID,
		EventID:   event.ID,
		SessionID: event.SessionID,
		EventType: event.EventType,
		Content:   item.Content,
		Vector:    vec,
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
	})
}
