package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var errNoTimeMatch = errors.New("eventstore: no time expression matched")

// formatTime renders t as the RFC3339 string this package stores.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored RFC3339 timestamp, falling back to whatever
// layout was historically written.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// whenParser backs parseLenientTimestamp's best-effort natural-language
// parse ("5 minutes ago") of timestamps that aren't RFC3339. Nothing in
// the module calls parseLenientTimestamp: the hook binaries stamp events
// with the time the hook runs.
var whenParser = newWhenParser()

func newWhenParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseLenientTimestamp parses raw as RFC3339 first, then falls back to
// whenParser.Parse relative to now. Returns an error if neither succeeds.
func parseLenientTimestamp(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	r, err := whenParser.Parse(raw, now)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, errNoTimeMatch
	}
	return r.Time.UTC(), nil
}
