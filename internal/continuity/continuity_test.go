package continuity

import (
	"context"
	"testing"
	"time"
)

func TestObserveFirstSnapshotIsSeamless(t *testing.T) {
	m := New(Config{DecayHours: 6, MinScoreForSeamless: 0.7}, nil)
	snap := ExtractSnapshot("working on the parser in main.go")

	score := m.Observe(context.Background(), snap)

	if score.Transition != TransitionSeamless {
		t.Fatalf("first observation: transition = %q, want %q", score.Transition, TransitionSeamless)
	}
	if score.Total != 1 {
		t.Fatalf("first observation: total = %v, want 1", score.Total)
	}
}

func TestObserveIdenticalContextIsSeamless(t *testing.T) {
	m := New(Config{DecayHours: 6, MinScoreForSeamless: 0.7}, nil)
	ctx := context.Background()

	first := ExtractSnapshot("debugging retriever.go scoring logic")
	m.Observe(ctx, first)

	second := ContextSnapshot{
		ID:        "second",
		Timestamp: first.Timestamp,
		Topics:    first.Topics,
		Files:     first.Files,
		Entities:  first.Entities,
	}
	score := m.Observe(ctx, second)

	if score.Transition != TransitionSeamless {
		t.Fatalf("identical context: transition = %q, want %q", score.Transition, TransitionSeamless)
	}
	if score.Total < 0.99 {
		t.Fatalf("identical context: total = %v, want ~1", score.Total)
	}
}

func TestObserveUnrelatedContextIsBreak(t *testing.T) {
	m := New(Config{DecayHours: 6, MinScoreForSeamless: 0.7}, nil)
	ctx := context.Background()

	first := ContextSnapshot{
		ID:        "first",
		Timestamp: time.Now().Add(-24 * time.Hour),
		Topics:    []string{"database", "migration"},
		Files:     []string{"schema.sql"},
		Entities:  []string{"PostgresDriver"},
	}
	m.Observe(ctx, first)

	second := ContextSnapshot{
		ID:        "second",
		Timestamp: time.Now(),
		Topics:    []string{"frontend", "css"},
		Files:     []string{"styles.css"},
		Entities:  []string{"ReactComponent"},
	}
	score := m.Observe(ctx, second)

	if score.Transition != TransitionBreak {
		t.Fatalf("unrelated context after a day: transition = %q, want %q", score.Transition, TransitionBreak)
	}
}

func TestJaccard(t *testing.T) {
	cases := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 1},
		{"disjoint", []string{"a"}, []string{"b"}, 0},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := jaccard(tc.a, tc.b)
			if got != tc.want {
				t.Fatalf("jaccard(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestExtractSnapshotDedupesCaseInsensitively(t *testing.T) {
	snap := ExtractSnapshot("Retry the retry logic; RETRY once more")
	count := 0
	for _, topic := range snap.Topics {
		if topic == "retry" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one deduped 'retry' topic, got %d occurrences in %v", count, snap.Topics)
	}
}
