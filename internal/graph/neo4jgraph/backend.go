// Package neo4jgraph is the optional remote Edge/Entity Repo backend,
// serving large or cross-project shared graphs behind the same
// graph.Backend interface sqlitegraph implements locally. Modeled on
// the graph.GraphStore (session-per-call, MERGE-based upsert,
// sanitized relationship type identifiers) pattern.
package neo4jgraph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/graph"
	"github.com/cml-project/cml/internal/types"
)

// Backend implements graph.Backend against a Neo4j database. Edges are
// modeled as relationships typed by their sanitized RelType, carrying
// edge_id, src_type, dst_type and meta_json as properties.
type Backend struct {
	driver neo4j.DriverWithContext
}

var _ graph.Backend = (*Backend)(nil)

func New(uri, username, password string) (*Backend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4jgraph: connect: %w", err)
	}
	return &Backend{driver: driver}, nil
}

func (b *Backend) Close() error {
	return b.driver.Close(context.Background())
}

func (b *Backend) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{})
}

// Create inserts an edge, idempotent on (src_id, rel_type, dst_id) via
// MERGE; a second Create with the same key returns the existing edge's
// generated id unchanged.
func (b *Backend) Create(ctx context.Context, e types.Edge) (int64, error) {
	sess := b.session(ctx)
	defer sess.Close(ctx)

	rel := sanitizeRelType(string(e.RelType))
	metaJSON, err := marshalMeta(e.Meta)
	if err != nil {
		return 0, err
	}

	cypher := fmt.Sprintf(`
		MERGE (a:Node {id: $src_id})
		MERGE (b:Node {id: $dst_id})
		MERGE (a)-[r:%s]->(b)
		ON CREATE SET r.edge_id = timestamp(), r.src_type = $src_type, r.dst_type = $dst_type, r.meta = $meta
		RETURN r.edge_id AS edge_id
	`, rel)

	result, err := sess.Run(ctx, cypher, map[string]any{
		"src_id": e.SrcID, "dst_id": e.DstID, "src_type": e.SrcType, "dst_type": e.DstType, "meta": metaJSON,
	})
	if err != nil {
		return 0, cmlerr.Wrap("neo4jgraph: create", err)
	}
	return scanEdgeID(ctx, result)
}

// Upsert creates the edge if absent, or refreshes Meta if present.
func (b *Backend) Upsert(ctx context.Context, e types.Edge) (int64, error) {
	sess := b.session(ctx)
	defer sess.Close(ctx)

	rel := sanitizeRelType(string(e.RelType))
	metaJSON, err := marshalMeta(e.Meta)
	if err != nil {
		return 0, err
	}

	cypher := fmt.Sprintf(`
		MERGE (a:Node {id: $src_id})
		MERGE (b:Node {id: $dst_id})
		MERGE (a)-[r:%s]->(b)
		ON CREATE SET r.edge_id = timestamp(), r.src_type = $src_type, r.dst_type = $dst_type
		SET r.meta = $meta
		RETURN r.edge_id AS edge_id
	`, rel)

	result, err := sess.Run(ctx, cypher, map[string]any{
		"src_id": e.SrcID, "dst_id": e.DstID, "src_type": e.SrcType, "dst_type": e.DstType, "meta": metaJSON,
	})
	if err != nil {
		return 0, cmlerr.Wrap("neo4jgraph: upsert", err)
	}
	return scanEdgeID(ctx, result)
}

func (b *Backend) FindBySrc(ctx context.Context, srcID string) ([]types.Edge, error) {
	return b.find(ctx, `MATCH (a:Node {id: $src_id})-[r]->(b:Node) RETURN r, a.id AS src_id, b.id AS dst_id`,
		map[string]any{"src_id": srcID})
}

func (b *Backend) FindByDst(ctx context.Context, dstID string) ([]types.Edge, error) {
	return b.find(ctx, `MATCH (a:Node)-[r]->(b:Node {id: $dst_id}) RETURN r, a.id AS src_id, b.id AS dst_id`,
		map[string]any{"dst_id": dstID})
}

func (b *Backend) FindByEndpoints(ctx context.Context, srcID, dstID string) ([]types.Edge, error) {
	return b.find(ctx, `MATCH (a:Node {id: $src_id})-[r]->(b:Node {id: $dst_id}) RETURN r, a.id AS src_id, b.id AS dst_id`,
		map[string]any{"src_id": srcID, "dst_id": dstID})
}

func (b *Backend) find(ctx context.Context, cypher string, params map[string]any) ([]types.Edge, error) {
	sess := b.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, cmlerr.Wrap("neo4jgraph: find", err)
	}

	var edges []types.Edge
	for result.Next(ctx) {
		rec := result.Record()
		rel, _, err := neo4j.GetRecordValue[dbtype.Relationship](rec, "r")
		if err != nil {
			continue
		}
		srcID, _ := rec.Get("src_id")
		dstID, _ := rec.Get("dst_id")
		edges = append(edges, edgeFromRelationship(rel, srcID.(string), dstID.(string)))
	}
	return edges, result.Err()
}

// Delete removes the edge by its assigned edge_id property.
func (b *Backend) Delete(ctx context.Context, edgeID int64) error {
	sess := b.session(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH ()-[r {edge_id: $edge_id}]->() DELETE r RETURN count(r) AS n`,
		map[string]any{"edge_id": edgeID})
	if err != nil {
		return cmlerr.Wrap("neo4jgraph: delete", err)
	}
	if !result.Next(ctx) {
		return cmlerr.ErrNotFound
	}
	return nil
}

// ReplaceEdges transactionally deletes every edge with (src_id, rel_type)
// and inserts edges in its place.
func (b *Backend) ReplaceEdges(ctx context.Context, srcID string, relType types.RelType, edges []types.Edge) error {
	sess := b.session(ctx)
	defer sess.Close(ctx)

	rel := sanitizeRelType(string(relType))
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deleteCypher := fmt.Sprintf(`MATCH (a:Node {id: $src_id})-[r:%s]->() DELETE r`, rel)
		if _, err := tx.Run(ctx, deleteCypher, map[string]any{"src_id": srcID}); err != nil {
			return nil, err
		}
		for _, e := range edges {
			metaJSON, err := marshalMeta(e.Meta)
			if err != nil {
				return nil, err
			}
			createCypher := fmt.Sprintf(`
				MERGE (a:Node {id: $src_id})
				MERGE (b:Node {id: $dst_id})
				MERGE (a)-[r:%s]->(b)
				SET r.edge_id = timestamp(), r.src_type = $src_type, r.dst_type = $dst_type, r.meta = $meta
			`, rel)
			if _, err := tx.Run(ctx, createCypher, map[string]any{
				"src_id": e.SrcID, "dst_id": e.DstID, "src_type": e.SrcType, "dst_type": e.DstType, "meta": metaJSON,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return cmlerr.Wrap("neo4jgraph: replace edges", err)
	}
	return nil
}

// GetEffectiveBlockers resolves blocked_by edges for taskID through a
// single hop of resolves_to: a blocker that itself resolves_to another
// node is reported as resolved and excluded.
func (b *Backend) GetEffectiveBlockers(ctx context.Context, taskID string) ([]types.Edge, error) {
	cypher := `
		MATCH (t:Node {id: $task_id})-[r:BLOCKED_BY]->(blocker:Node)
		WHERE NOT (blocker)-[:RESOLVES_TO]->()
		RETURN r, t.id AS src_id, blocker.id AS dst_id
	`
	return b.find(ctx, cypher, map[string]any{"task_id": taskID})
}

// FindRelatedEntries performs a 2-hop evidence_of -> evidence_of
// self-join from entryID, excluding entryID itself.
func (b *Backend) FindRelatedEntries(ctx context.Context, entryID string) ([]types.Edge, error) {
	cypher := `
		MATCH (a:Node {id: $entry_id})-[:EVIDENCE_OF]->(mid:Node)<-[r:EVIDENCE_OF]-(related:Node)
		WHERE related.id <> $entry_id
		RETURN r, related.id AS src_id, mid.id AS dst_id
	`
	return b.find(ctx, cypher, map[string]any{"entry_id": entryID})
}
