// Package vectorstore defines the Vector Store contract (C2): a
// content-addressed index supporting upsert, batched writes, cosine
// top-k search, and delete. The default backend (localvec) is an
// embedded, file-backed shard; an optional remote backend (qdrantvec)
// serves larger or shared deployments behind the same interface, the
// same local/remote factory duality the Edge/Entity Repo (C4) uses.
package vectorstore

import (
	"context"

	"github.com/cml-project/cml/internal/types"
)

// Filter narrows Search to records matching a metadata scope, applied
// post-search if the backend has no native predicate support.
type Filter struct {
	SessionID string // empty = no constraint
}

// Store is the vector index as seen by the vector worker (the only
// writer) and the retriever (the only reader).
type Store interface {
	Upsert(ctx context.Context, rec types.VectorRecord) error
	UpsertBatch(ctx context.Context, recs []types.VectorRecord) error
	Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]types.VectorSearchHit, error)
	Delete(ctx context.Context, eventID string) error
	Count(ctx context.Context) (int, error)
	Close() error
}
