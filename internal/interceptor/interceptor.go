// Package interceptor implements the Ingest Interceptor Registry (C9):
// ordered before/after hook lists invoked around event ingest, modeled
// on the teacher's internal/eventbus Handler/Dispatch pattern.
package interceptor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cml-project/cml/internal/types"
)

// Phase is the point in the ingest pipeline a hook runs at.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Context is what a hook receives and may mutate. Only Event.Metadata is
// meant to be mutated; Hook implementations must not retain ctx.Event
// past the call.
type Context struct {
	Event *types.Event
}

// Hook is a single registered interceptor. Handle may mutate ctx.Event's
// metadata; a returned error is logged and otherwise ignored.
type Hook interface {
	ID() string
	Handle(ctx context.Context, hctx *Context) error
}

// Publisher optionally fans dispatched events out after local hooks run,
// mirroring the teacher's JetStream-after-dispatch behavior.
type Publisher interface {
	PublishIngested(ctx context.Context, phase Phase, event *types.Event) error
}

// Registry holds before/after hook lists and runs them in registration
// order. Dispatch never propagates a hook's error to the caller: ingest
// must proceed even if an enrichment hook misbehaves.
type Registry struct {
	mu        sync.RWMutex
	before    []Hook
	after     []Hook
	log       *slog.Logger
	publisher Publisher
}

func New(log *slog.Logger, publisher Publisher) *Registry {
	return &Registry{log: log, publisher: publisher}
}

// Register adds h to the named phase's hook list.
func (r *Registry) Register(phase Phase, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch phase {
	case PhaseBefore:
		r.before = append(r.before, h)
	case PhaseAfter:
		r.after = append(r.after, h)
	}
}

// Unregister removes a hook by ID from the named phase. Returns true if
// a hook was removed.
func (r *Registry) Unregister(phase Phase, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := &r.before
	if phase == PhaseAfter {
		list = &r.after
	}
	for i, h := range *list {
		if h.ID() == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// Run invokes every hook registered for phase, in registration order,
// against event. Hook errors are logged and skipped — never fatal to
// ingest. If a publisher is configured, the event is published after
// local dispatch.
func (r *Registry) Run(ctx context.Context, phase Phase, event *types.Event) {
	r.mu.RLock()
	var hooks []Hook
	if phase == PhaseBefore {
		hooks = append(hooks, r.before...)
	} else {
		hooks = append(hooks, r.after...)
	}
	publisher := r.publisher
	r.mu.RUnlock()

	hctx := &Context{Event: event}
	for _, h := range hooks {
		if err := h.Handle(ctx, hctx); err != nil {
			if r.log != nil {
				r.log.Warn("interceptor: hook error", "phase", phase, "hook", h.ID(), "error", err)
			}
		}
	}

	if publisher != nil {
		if err := publisher.PublishIngested(ctx, phase, event); err != nil {
			if r.log != nil {
				r.log.Warn("interceptor: publish failed", "phase", phase, "error", err)
			}
		}
	}
}
