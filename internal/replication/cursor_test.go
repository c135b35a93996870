package replication

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileCursorLoadMissingFileIsZero(t *testing.T) {
	c := NewFileCursor(filepath.Join(t.TempDir(), "cursor"))
	got, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 0 {
		t.Fatalf("Load on missing file = %d, want 0", got)
	}
}

func TestFileCursorSaveThenLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := NewFileCursor(filepath.Join(t.TempDir(), "cursor"))

	if err := c.Save(ctx, 42); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 42 {
		t.Fatalf("Load after Save(42) = %d, want 42", got)
	}
}

func TestFileCursorSaveOverwritesPreviousValue(t *testing.T) {
	ctx := context.Background()
	c := NewFileCursor(filepath.Join(t.TempDir(), "cursor"))

	if err := c.Save(ctx, 1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := c.Save(ctx, 2); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != 2 {
		t.Fatalf("Load after two Saves = %d, want 2", got)
	}
}
