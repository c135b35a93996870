// Package mdmirror implements the optional markdown "mirror" side
// output (spec.md §6): one append-only file per
// namespace/category-path/day, written best-effort alongside the
// primary event-store commit. A mirror write failure is never fatal to
// ingest -- callers log and move on, the same propagation policy the
// hook binaries apply to everything else on the ingest path.
package mdmirror

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cml-project/cml/internal/types"
)

// Mirror appends sanitized markdown entries under baseDir.
type Mirror struct {
	baseDir string
	log     *slog.Logger
}

func New(baseDir string, log *slog.Logger) *Mirror {
	return &Mirror{baseDir: baseDir, log: log}
}

// frontMatter is marshaled as the YAML header of each appended entry.
type frontMatter struct {
	EventID   string `yaml:"event_id"`
	EventType string `yaml:"event_type"`
	SessionID string `yaml:"session_id"`
	Timestamp string `yaml:"timestamp"`
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizePathComponent lowercases s and collapses runs of
// non-alphanumeric characters to a single hyphen, rejecting ".." outright
// so a malicious namespace/category can't escape baseDir.
func sanitizePathComponent(s string) (string, error) {
	if strings.Contains(s, "..") {
		return "", fmt.Errorf("mdmirror: path component %q contains '..'", s)
	}
	lower := strings.ToLower(s)
	clean := strings.Trim(nonAlnumRe.ReplaceAllString(lower, "-"), "-")
	if clean == "" {
		clean = "default"
	}
	return clean, nil
}

// Write appends event as a markdown entry under
// <baseDir>/<namespace>/<category-path>/<YYYY-MM-DD>.md, creating
// directories as needed. namespace and categoryPath come from
// event.Metadata's "namespace" and "category"/"categoryPath" paths,
// defaulting to "default" when absent.
func (m *Mirror) Write(ctx context.Context, event *types.Event) error {
	dir, err := m.targetDir(event)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mdmirror: mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, event.Timestamp.UTC().Format("2006-01-02")+".md")
	entry, err := renderEntry(event)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("mdmirror: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(entry); err != nil {
		return fmt.Errorf("mdmirror: write %s: %w", path, err)
	}
	return nil
}

func (m *Mirror) targetDir(event *types.Event) (string, error) {
	namespace := "default"
	if v, ok := event.Metadata.GetString("namespace"); ok && v != "" {
		namespace = v
	}
	namespace, err := sanitizePathComponent(namespace)
	if err != nil {
		return "", err
	}

	segments := []string{m.baseDir, namespace}
	for _, seg := range categoryPath(event.Metadata) {
		clean, err := sanitizePathComponent(seg)
		if err != nil {
			return "", err
		}
		segments = append(segments, clean)
	}
	if len(segments) == 2 {
		segments = append(segments, "default")
	}
	return filepath.Join(segments...), nil
}

func categoryPath(meta types.Metadata) []string {
	if v, ok := meta.GetString("category"); ok && v != "" {
		return []string{v}
	}
	v, ok := meta.Get("categoryPath")
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func renderEntry(event *types.Event) ([]byte, error) {
	fm := frontMatter{
		EventID:   event.ID,
		EventType: string(event.EventType),
		SessionID: event.SessionID,
		Timestamp: event.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("mdmirror: marshal front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n\n")
	b.WriteString(event.Content)
	b.WriteString("\n\n")
	return b.Bytes(), nil
}
