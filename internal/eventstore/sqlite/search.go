package sqlite

import (
	"context"

	"github.com/cml-project/cml/internal/types"
)

// KeywordSearch performs a substring match over content, used by the
// retriever's keyword leg and as a fallback when no vector store is
// configured. SQLite's LIKE is case-insensitive for ASCII by default,
// which is sufficient here; ranking/fusion with vector scores happens in
// internal/retriever, not here.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	like := "%" + escapeLike(query) + "%"
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE content LIKE ? ESCAPE '\' ORDER BY timestamp DESC LIMIT ?`,
		like, limit)
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '\\', '%', '_':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
