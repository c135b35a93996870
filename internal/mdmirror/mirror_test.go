package mdmirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cml-project/cml/internal/types"
)

func TestSanitizePathComponentRejectsDotDot(t *testing.T) {
	if _, err := sanitizePathComponent("../etc/passwd"); err == nil {
		t.Fatal("expected error for path component containing '..'")
	}
}

func TestSanitizePathComponentCollapsesAndLowercases(t *testing.T) {
	got, err := sanitizePathComponent("My Category!!")
	if err != nil {
		t.Fatalf("sanitizePathComponent: %v", err)
	}
	if got != "my-category" {
		t.Fatalf("got %q, want %q", got, "my-category")
	}
}

func TestSanitizePathComponentEmptyDefaultsToDefault(t *testing.T) {
	got, err := sanitizePathComponent("!!!")
	if err != nil {
		t.Fatalf("sanitizePathComponent: %v", err)
	}
	if got != "default" {
		t.Fatalf("got %q, want %q", got, "default")
	}
}

func TestWriteCreatesNamespacedFileWithFrontMatter(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)

	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	event := &types.Event{
		ID:        "evt-1",
		EventType: types.EventUserPrompt,
		SessionID: "sess-1",
		Timestamp: ts,
		Content:   "hello world",
		Metadata:  types.Metadata{"namespace": "Project A", "category": "Decisions"},
	}

	if err := m.Write(context.Background(), event); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "project-a", "decisions", "2026-07-30.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected mirror file at %s: %v", path, err)
	}
	text := string(data)
	if !strings.Contains(text, "event_id: evt-1") {
		t.Fatalf("expected front matter with event_id, got:\n%s", text)
	}
	if !strings.Contains(text, "hello world") {
		t.Fatalf("expected entry content, got:\n%s", text)
	}
}

func TestWriteAppendsToSameDayFile(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)
	ts := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	mkEvent := func(content string) *types.Event {
		return &types.Event{
			ID:        "evt",
			EventType: types.EventUserPrompt,
			Timestamp: ts,
			Content:   content,
			Metadata:  types.Metadata{},
		}
	}

	if err := m.Write(context.Background(), mkEvent("first")); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := m.Write(context.Background(), mkEvent("second")); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	path := filepath.Join(dir, "default", "default", "2026-07-30.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "first") || !strings.Contains(text, "second") {
		t.Fatalf("expected both entries appended, got:\n%s", text)
	}
}

func TestCategoryPathFromCategoryPathList(t *testing.T) {
	meta := types.Metadata{"categoryPath": []interface{}{"a", "b"}}
	got := categoryPath(meta)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("categoryPath = %v, want [a b]", got)
	}
}
