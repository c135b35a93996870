// Package replication implements the Replication Feed (C10): a pull-model
// puller that advances a local rowid cursor against a peer project's
// event store and imports what it finds, idempotent by (id) and
// (dedupe_key). Modeled on the teacher's internal/importer (Options,
// Result counters, dry-run) and cmd/bd/daemon_event_loop.go's
// fsnotify-plus-fallback-ticker shape.
package replication

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cml-project/cml/internal/eventstore"
	"github.com/cml-project/cml/internal/types"
)

// Peer is the remote project's event feed as seen by the puller: a
// rowid-cursor read, with no write access.
type Peer interface {
	GetEventsSinceRowid(ctx context.Context, cursor int64, limit int) ([]types.RowidEvent, error)
}

// Options configures a puller run, mirroring the teacher's
// importer.Options shape.
type Options struct {
	BatchLimit int
	DryRun     bool
}

// Result reports one pull's outcome, mirroring the teacher's
// importer.Result counters.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
}

// Cursor persists and advances the puller's last-seen peer rowid.
type Cursor interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, rowid int64) error
}

// Puller pulls new events from a Peer into a local eventstore.Store,
// waking on cursor-file fsnotify events with a fallback ticker for
// filesystems (network mounts) where fsnotify doesn't fire.
type Puller struct {
	peer   Peer
	local  eventstore.Store
	cursor Cursor
	opts   Options
	log    *slog.Logger
}

func New(peer Peer, local eventstore.Store, cursor Cursor, opts Options, log *slog.Logger) *Puller {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 256
	}
	return &Puller{peer: peer, local: local, cursor: cursor, opts: opts, log: log}
}

// PullOnce advances the cursor by one batch and imports whatever the
// peer returns. Idempotent: re-running with an unchanged peer state is a
// no-op (every event is already present by id/dedupe_key).
func (p *Puller) PullOnce(ctx context.Context) (Result, error) {
	cursor, err := p.cursor.Load(ctx)
	if err != nil {
		return Result{}, err
	}

	rowEvents, err := p.peer.GetEventsSinceRowid(ctx, cursor, p.opts.BatchLimit)
	if err != nil {
		return Result{}, err
	}
	if len(rowEvents) == 0 {
		return Result{}, nil
	}

	if p.opts.DryRun {
		return Result{Created: len(rowEvents)}, nil
	}

	events := make([]*types.Event, len(rowEvents))
	maxRowid := cursor
	for i, re := range rowEvents {
		events[i] = re.Event
		if re.Rowid > maxRowid {
			maxRowid = re.Rowid
		}
	}

	importResult, err := p.local.ImportEvents(ctx, events)
	if err != nil {
		return Result{}, err
	}

	if err := p.cursor.Save(ctx, maxRowid); err != nil {
		return Result{}, err
	}

	if _, err := p.local.BackfillTurnIDs(ctx); err != nil && p.log != nil {
		p.log.Warn("replication: backfill turn ids failed", "error", err)
	}

	return Result{Created: importResult.Inserted, Skipped: importResult.Skipped}, nil
}

// Run pulls on a fallback ticker and whenever cursorWatchPath changes on
// disk, until ctx is canceled. A missing/unwatchable path falls back to
// ticker-only polling, matching the teacher's daemon's degraded mode.
func (p *Puller) Run(ctx context.Context, cursorWatchPath string, fallbackInterval time.Duration) error {
	var watchChan <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		if p.log != nil {
			p.log.Warn("replication: fsnotify unavailable, ticker-only", "error", err)
		}
	} else {
		defer watcher.Close()
		if err := watcher.Add(cursorWatchPath); err != nil {
			if p.log != nil {
				p.log.Warn("replication: watch failed, ticker-only", "path", cursorWatchPath, "error", err)
			}
		} else {
			watchChan = watcher.Events
		}
	}

	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pullAndLog(ctx)
		case _, ok := <-watchChan:
			if !ok {
				watchChan = nil
				continue
			}
			p.pullAndLog(ctx)
		}
	}
}

func (p *Puller) pullAndLog(ctx context.Context) {
	result, err := p.PullOnce(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Warn("replication: pull failed", "error", err)
		}
		return
	}
	if p.log != nil && (result.Created > 0 || result.Skipped > 0) {
		p.log.Info("replication: pull complete", "created", result.Created, "skipped", result.Skipped)
	}
}
