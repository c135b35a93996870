package interceptor

import (
	"context"
	"errors"
	"testing"

	"github.com/cml-project/cml/internal/types"
)

type recordingHook struct {
	id    string
	calls *[]string
	err   error
}

func (h recordingHook) ID() string { return h.id }

func (h recordingHook) Handle(ctx context.Context, hctx *Context) error {
	*h.calls = append(*h.calls, h.id)
	if h.err != nil {
		return h.err
	}
	hctx.Event.Metadata["touched_by_"+h.id] = true
	return nil
}

func TestRunInvokesHooksInRegistrationOrder(t *testing.T) {
	var calls []string
	r := New(nil, nil)
	r.Register(PhaseBefore, recordingHook{id: "a", calls: &calls})
	r.Register(PhaseBefore, recordingHook{id: "b", calls: &calls})

	event := &types.Event{Metadata: types.Metadata{}}
	r.Run(context.Background(), PhaseBefore, event)

	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("hooks ran out of order: %v", calls)
	}
	if event.Metadata["touched_by_a"] != true || event.Metadata["touched_by_b"] != true {
		t.Fatalf("expected both hooks to mutate metadata, got %v", event.Metadata)
	}
}

func TestRunOnlyInvokesMatchingPhase(t *testing.T) {
	var calls []string
	r := New(nil, nil)
	r.Register(PhaseBefore, recordingHook{id: "before-hook", calls: &calls})
	r.Register(PhaseAfter, recordingHook{id: "after-hook", calls: &calls})

	event := &types.Event{Metadata: types.Metadata{}}
	r.Run(context.Background(), PhaseBefore, event)

	if len(calls) != 1 || calls[0] != "before-hook" {
		t.Fatalf("expected only the before hook to run, got %v", calls)
	}
}

func TestRunSwallowsHookErrors(t *testing.T) {
	var calls []string
	r := New(nil, nil)
	r.Register(PhaseBefore, recordingHook{id: "failing", calls: &calls, err: errors.New("boom")})
	r.Register(PhaseBefore, recordingHook{id: "after-failing", calls: &calls})

	event := &types.Event{Metadata: types.Metadata{}}
	r.Run(context.Background(), PhaseBefore, event)

	if len(calls) != 2 {
		t.Fatalf("expected both hooks to run despite the first erroring, got %v", calls)
	}
}

func TestUnregisterRemovesHook(t *testing.T) {
	var calls []string
	r := New(nil, nil)
	r.Register(PhaseBefore, recordingHook{id: "temp", calls: &calls})

	if !r.Unregister(PhaseBefore, "temp") {
		t.Fatal("Unregister returned false for a registered hook")
	}
	if r.Unregister(PhaseBefore, "temp") {
		t.Fatal("Unregister returned true for an already-removed hook")
	}

	event := &types.Event{Metadata: types.Metadata{}}
	r.Run(context.Background(), PhaseBefore, event)
	if len(calls) != 0 {
		t.Fatalf("expected unregistered hook not to run, got %v", calls)
	}
}

type recordingPublisher struct {
	calls    []Phase
	sawLocal []bool
}

func (p *recordingPublisher) PublishIngested(ctx context.Context, phase Phase, event *types.Event) error {
	p.calls = append(p.calls, phase)
	p.sawLocal = append(p.sawLocal, event.Metadata["touched_by_local"] == true)
	return nil
}

func TestRunPublishesAfterLocalHooks(t *testing.T) {
	var calls []string
	pub := &recordingPublisher{}
	r := New(nil, pub)
	r.Register(PhaseAfter, recordingHook{id: "local", calls: &calls})

	event := &types.Event{Metadata: types.Metadata{}}
	r.Run(context.Background(), PhaseAfter, event)

	if len(pub.calls) != 1 || pub.calls[0] != PhaseAfter {
		t.Fatalf("expected publisher invoked once with PhaseAfter, got %v", pub.calls)
	}
	if len(pub.sawLocal) != 1 || !pub.sawLocal[0] {
		t.Fatalf("expected the local hook to have run before publish, got %v", pub.sawLocal)
	}
}
