package sqlite

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cml-project/cml/internal/types"
)

// dedupeBucketSeconds is the coarsening bucket applied to timestamps
// before hashing into dedupe_key, per spec.md §4.1 ("bucket = 60s").
const dedupeBucketSeconds = 60

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeContent collapses runs of whitespace and trims, so formatting
// differences (extra spaces, trailing newlines) don't defeat dedupe.
func normalizeContent(content string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(content, " "))
}

// canonicalKey computes H(event_type || 0x1f || session_id || 0x1f ||
// normalize(content)) using xxhash -- fast and stable, appropriate for a
// dedupe key rather than a security boundary.
func canonicalKey(eventType types.EventType, sessionID, content string) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(eventType))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.WriteString(sessionID)
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.WriteString(normalizeContent(content))
	return fmt.Sprintf("%016x", h.Sum64())
}

// dedupeKey computes H(canonical_key || 0x1f || floor(timestamp/bucket)).
func dedupeKey(canonical string, ts time.Time) string {
	bucket := ts.Unix() / dedupeBucketSeconds
	h := xxhash.New()
	_, _ = h.WriteString(canonical)
	_, _ = h.Write([]byte{0x1f})
	_, _ = fmt.Fprintf(h, "%d", bucket)
	return fmt.Sprintf("%016x", h.Sum64())
}
