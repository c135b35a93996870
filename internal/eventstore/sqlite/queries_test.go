package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cml-project/cml/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.sqlite"), 1000, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendThenCountEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 0 {
		t.Fatalf("CountEvents on empty store = %d, want 0", n)
	}

	_, err = s.Append(ctx, types.AppendInput{
		EventType: types.EventUserPrompt,
		SessionID: "sess-1",
		Content:   "first prompt",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	n, err = s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountEvents after one append = %d, want 1", n)
	}
}

func TestAppendDedupesIdenticalEventWithinWindow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	ts := time.Now()

	first, err := s.Append(ctx, types.AppendInput{
		EventType: types.EventUserPrompt,
		SessionID: "sess-1",
		Content:   "duplicate me",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if first.IsDuplicate {
		t.Fatal("first append reported as duplicate")
	}

	second, err := s.Append(ctx, types.AppendInput{
		EventType: types.EventUserPrompt,
		SessionID: "sess-1",
		Content:   "duplicate me",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if !second.IsDuplicate {
		t.Fatal("second identical append not reported as duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate append returned a different ID: %s vs %s", second.ID, first.ID)
	}

	n, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountEvents after duplicate append = %d, want 1", n)
	}
}

func TestCountUnleveledAndLevelUnleveled(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Append(ctx, types.AppendInput{
		EventType: types.EventUserPrompt,
		SessionID: "sess-1",
		Content:   "leveled normally",
		Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate the un-leveled state (S7): a row inserted outside Append,
	// bypassing the normal leveling path entirely.
	if _, err := s.DB().ExecContext(ctx, `
		INSERT INTO events (id, event_type, session_id, turn_id, timestamp, content, canonical_key, dedupe_key, metadata, level)
		VALUES ('raw-1', 'user_prompt', 'sess-1', '', ?, 'bypassed row', 'canon-raw-1', 'dk-raw-1', '{}', '')
	`, formatTime(time.Now())); err != nil {
		t.Fatalf("insert un-leveled row: %v", err)
	}

	unleveled, err := s.CountUnleveled(ctx)
	if err != nil {
		t.Fatalf("CountUnleveled: %v", err)
	}
	if unleveled != 1 {
		t.Fatalf("CountUnleveled = %d, want 1", unleveled)
	}

	fixed, err := s.LevelUnleveled(ctx)
	if err != nil {
		t.Fatalf("LevelUnleveled: %v", err)
	}
	if fixed != 1 {
		t.Fatalf("LevelUnleveled returned %d rows fixed, want 1", fixed)
	}

	unleveled, err = s.CountUnleveled(ctx)
	if err != nil {
		t.Fatalf("CountUnleveled after fix: %v", err)
	}
	if unleveled != 0 {
		t.Fatalf("CountUnleveled after fix = %d, want 0", unleveled)
	}

	total, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if total != 2 {
		t.Fatalf("CountEvents = %d, want 2", total)
	}
}
