// Package localvec is the default Vector Store backend (C2): an
// embedded, file-backed flat index. Records are held in memory and
// mirrored to a single gob-encoded shard file under the project's
// vectors/ directory on every mutation, modeled on the teacher's
// ephemeral.Store pattern of owning a small on-disk file with explicit
// load/save rather than a full embedded database engine.
package localvec

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/types"
	"github.com/cml-project/cml/internal/vectorstore"
)

const shardFileName = "shard.gob"

// Store is a brute-force cosine index. At the per-project conversation
// scale this spec targets (thousands, not millions, of events), a linear
// scan over pre-normalized float32 vectors is fast enough that an ANN
// index would be premature complexity.
type Store struct {
	mu      sync.RWMutex
	dir     string
	records map[string]types.VectorRecord // keyed by event_id
}

// Open loads dir/shard.gob if present, creating dir otherwise.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("localvec: create dir: %w", err)
	}
	s := &Store{dir: dir, records: make(map[string]types.VectorRecord)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ vectorstore.Store = (*Store)(nil)

func (s *Store) shardPath() string { return filepath.Join(s.dir, shardFileName) }

func (s *Store) load() error {
	f, err := os.Open(s.shardPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open shard: %v", cmlerr.ErrVectorStore, err)
	}
	defer f.Close()

	var records map[string]types.VectorRecord
	if err := gob.NewDecoder(f).Decode(&records); err != nil {
		return fmt.Errorf("%w: decode shard: %v", cmlerr.ErrFatal, err)
	}
	s.records = records
	return nil
}

// saveLocked persists the in-memory map to a temp file then renames over
// the shard, so a crash mid-write never leaves a truncated shard.
func (s *Store) saveLocked() error {
	tmp := s.shardPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create shard tmp: %v", cmlerr.ErrVectorStore, err)
	}
	if err := gob.NewEncoder(f).Encode(s.records); err != nil {
		f.Close()
		return fmt.Errorf("%w: encode shard: %v", cmlerr.ErrVectorStore, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close shard tmp: %v", cmlerr.ErrVectorStore, err)
	}
	if err := os.Rename(tmp, s.shardPath()); err != nil {
		return fmt.Errorf("%w: rename shard: %v", cmlerr.ErrVectorStore, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec types.VectorRecord) error {
	return s.UpsertBatch(ctx, []types.VectorRecord{rec})
}

func (s *Store) UpsertBatch(ctx context.Context, recs []types.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.records[r.EventID] = r
	}
	return s.saveLocked()
}

func (s *Store) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, eventID)
	return s.saveLocked()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) Close() error { return nil }

// Search ranks records by cosine similarity to query. Both query and
// stored vectors are expected pre-normalized by the embedder, so cosine
// reduces to a dot product.
func (s *Store) Search(ctx context.Context, query []float32, topK int, filter *vectorstore.Filter) ([]types.VectorSearchHit, error) {
	if topK <= 0 {
		topK = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]types.VectorSearchHit, 0, len(s.records))
	for _, r := range s.records {
		if filter != nil && filter.SessionID != "" && r.SessionID != filter.SessionID {
			continue
		}
		if len(r.Vector) != len(query) {
			continue
		}
		hits = append(hits, types.VectorSearchHit{
			ID:        r.ID,
			EventID:   r.EventID,
			Score:     dot(query, r.Vector),
			Content:   r.Content,
			EventType: r.EventType,
			Timestamp: r.Timestamp,
			SessionID: r.SessionID,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
