package replication

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileCursor persists the puller's rowid cursor as plain text in a single
// file, written via a temp-file-then-rename so a crash mid-write never
// leaves a truncated cursor behind.
type FileCursor struct {
	path string
}

func NewFileCursor(path string) *FileCursor {
	return &FileCursor{path: path}
}

func (c *FileCursor) Load(ctx context.Context) (int64, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("replication: read cursor: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("replication: parse cursor: %w", err)
	}
	return n, nil
}

func (c *FileCursor) Save(ctx context.Context, rowid int64) error {
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(rowid, 10)), 0o644); err != nil {
		return fmt.Errorf("replication: write cursor: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replication: rename cursor: %w", err)
	}
	return nil
}
