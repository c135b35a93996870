// Package graph defines the Edge/Entity Repo contract (C4): a typed
// relation graph over entries and entities, with 2-hop traversal helpers.
// The default backend is SQLite-backed (internal/graph/sqlitegraph); an
// optional Neo4j backend (internal/graph/neo4jgraph) serves large
// cross-project shared graphs behind the same interface, mirroring the
// C2 vector store's local/remote factory duality.
package graph

import (
	"context"

	"github.com/cml-project/cml/internal/types"
)

// Backend is the Edge/Entity Repo as seen by the rest of the system.
type Backend interface {
	// Create inserts an edge, idempotent on (src_id, rel_type, dst_id):
	// a second Create with the same key is a no-op and returns the
	// existing edge's EdgeID.
	Create(ctx context.Context, e types.Edge) (int64, error)

	// Upsert creates the edge if absent, or updates Meta if present.
	Upsert(ctx context.Context, e types.Edge) (int64, error)

	FindBySrc(ctx context.Context, srcID string) ([]types.Edge, error)
	FindByDst(ctx context.Context, dstID string) ([]types.Edge, error)
	FindByEndpoints(ctx context.Context, srcID, dstID string) ([]types.Edge, error)

	Delete(ctx context.Context, edgeID int64) error

	// ReplaceEdges transactionally deletes every edge with the given
	// (src_id, rel_type) and inserts edges in its place.
	ReplaceEdges(ctx context.Context, srcID string, relType types.RelType, edges []types.Edge) error

	// GetEffectiveBlockers resolves blocked_by edges for taskID through a
	// single hop of resolves_to: a blocker that itself resolves_to
	// another node is reported as resolved and excluded.
	GetEffectiveBlockers(ctx context.Context, taskID string) ([]types.Edge, error)

	// FindRelatedEntries performs a 2-hop evidence_of -> evidence_of
	// self-join from entryID, excluding entryID itself.
	FindRelatedEntries(ctx context.Context, entryID string) ([]types.Edge, error)

	Close() error
}
