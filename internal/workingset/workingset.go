// Package workingset implements the bounded rolling buffer of recent raw
// events (C5's working-set half) over hashicorp/golang-lru/v2, with a
// custom time-window-then-relevance eviction sweep the stock LRU cache
// doesn't provide on its own.
package workingset

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cml-project/cml/internal/types"
)

// Entry is one working-set member: the source event plus the relevance
// score attached at ingest time.
type Entry struct {
	Event     *types.Event
	Relevance float64
	AddedAt   time.Time
}

// Set is the bounded working-set buffer. Nil RedisMirror disables the
// optional cross-process mirror tier.
type Set struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, Entry]
	maxEvents  int
	window     time.Duration
	nowFunc    func() time.Time
	mirror     *RedisMirror
}

// New constructs a Set capped at maxEvents, evicting members older than
// window before every Add.
func New(maxEvents int, window time.Duration, mirror *RedisMirror) (*Set, error) {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	cache, err := lru.New[string, Entry](maxEvents)
	if err != nil {
		return nil, fmt.Errorf("workingset: new lru: %w", err)
	}
	return &Set{cache: cache, maxEvents: maxEvents, window: window, nowFunc: time.Now, mirror: mirror}, nil
}

// Add inserts e with the given relevance score, running the
// time-window-then-relevance eviction sweep first so the cap is enforced
// on the right members rather than whatever the LRU's recency order
// happens to pick.
func (s *Set) Add(ctx context.Context, e *types.Event, relevance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()

	entry := Entry{Event: e, Relevance: relevance, AddedAt: s.nowFunc()}
	s.cache.Add(e.ID, entry)

	if s.mirror != nil {
		s.mirror.Add(ctx, e.ID)
	}
}

// evictLocked drops members outside the time window, then — if still
// over cap — drops the lowest-relevance members until back at cap.
// Called with mu held.
func (s *Set) evictLocked() {
	now := s.nowFunc()
	for _, key := range s.cache.Keys() {
		entry, ok := s.cache.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(entry.Event.Timestamp) > s.window {
			s.cache.Remove(key)
			if s.mirror != nil {
				s.mirror.Remove(context.Background(), key)
			}
		}
	}

	for s.cache.Len() >= s.maxEvents {
		lowestKey, lowestRelevance := "", float64(0)
		first := true
		for _, key := range s.cache.Keys() {
			entry, ok := s.cache.Peek(key)
			if !ok {
				continue
			}
			if first || entry.Relevance < lowestRelevance {
				lowestKey, lowestRelevance = key, entry.Relevance
				first = false
			}
		}
		if lowestKey == "" {
			break
		}
		s.cache.Remove(lowestKey)
		if s.mirror != nil {
			s.mirror.Remove(context.Background(), lowestKey)
		}
	}
}

// Entries returns the current working set ordered by event timestamp
// ascending, the order the consolidation worker clusters over.
func (s *Set) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, s.cache.Len())
	for _, key := range s.cache.Keys() {
		if entry, ok := s.cache.Peek(key); ok {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.Timestamp.Before(out[j].Event.Timestamp) })
	return out
}

// Remove prunes eventIDs from the working set, used after consolidation
// sources are folded into a ConsolidatedMemory.
func (s *Set) Remove(ctx context.Context, eventIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		s.cache.Remove(id)
		if s.mirror != nil {
			s.mirror.Remove(ctx, id)
		}
	}
}

// Close releases the Redis mirror's connection, if one is configured.
func (s *Set) Close() error {
	if s.mirror != nil {
		return s.mirror.Close()
	}
	return nil
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// RedisMirror writes working-set membership to Redis so multiple
// short-lived hook processes on the same project see one consolidated
// view without routing through the single consolidation-worker's memory,
// per spec.md §4.5's expansion. Redis errors are discarded without
// logging and never block the in-memory Set, which remains authoritative.
type RedisMirror struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewRedisMirror parses addr (a redis:// URL) and targets key as the
// Redis set holding working-set member event IDs.
func NewRedisMirror(addr, key string, ttl time.Duration) (*RedisMirror, error) {
	opts, err := goredis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("workingset: invalid redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{client: goredis.NewClient(opts), key: key, ttl: ttl}, nil
}

func (m *RedisMirror) Add(ctx context.Context, eventID string) {
	pipe := m.client.Pipeline()
	pipe.SAdd(ctx, m.key, eventID)
	pipe.Expire(ctx, m.key, m.ttl)
	_, _ = pipe.Exec(ctx) // best-effort: the in-memory Set is authoritative
}

func (m *RedisMirror) Remove(ctx context.Context, eventID string) {
	_ = m.client.SRem(ctx, m.key, eventID).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
