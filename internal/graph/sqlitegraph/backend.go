// Package sqlitegraph is the default Edge/Entity Repo backend (C4),
// storing edges as adjacency rows in the same SQLite database the event
// store owns. Traversals are expressed as iterative joins rather than
// recursive pointer chases, per the project's general avoidance of
// SQLite recursive CTEs for anything beyond two hops.
package sqlitegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/graph"
	"github.com/cml-project/cml/internal/types"
)

// Backend implements graph.Backend against an already-open SQLite
// connection. It does not own the *sql.DB's lifecycle: the caller (the
// same process that opened the event store) closes it.
type Backend struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// New wraps db, which must already carry the graph_edges table (created
// by the event store's schema on Open).
func New(db *sql.DB) *Backend {
	return &Backend{db: db, nowFunc: time.Now}
}

var _ graph.Backend = (*Backend)(nil)

func (b *Backend) Close() error { return nil }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func (b *Backend) Create(ctx context.Context, e types.Edge) (int64, error) {
	metaJSON, err := json.Marshal(metaOrEmpty(e.Meta))
	if err != nil {
		return 0, fmt.Errorf("%w: marshal edge meta: %v", cmlerr.ErrValidation, err)
	}
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO graph_edges (src_type, src_id, rel_type, dst_type, dst_id, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_id, rel_type, dst_id) DO NOTHING
	`, e.SrcType, e.SrcID, string(e.RelType), e.DstType, e.DstID, string(metaJSON), formatTime(b.nowFunc()))
	if err != nil {
		return 0, cmlerr.Wrap("graph create", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cmlerr.Wrap("graph create rows affected", err)
	}
	if n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, cmlerr.Wrap("graph create last insert id", err)
		}
		return id, nil
	}
	return b.edgeID(ctx, e.SrcID, e.RelType, e.DstID)
}

func (b *Backend) edgeID(ctx context.Context, srcID string, relType types.RelType, dstID string) (int64, error) {
	var id int64
	err := b.db.QueryRowContext(ctx,
		`SELECT edge_id FROM graph_edges WHERE src_id = ? AND rel_type = ? AND dst_id = ?`,
		srcID, string(relType), dstID).Scan(&id)
	if err != nil {
		return 0, cmlerr.Wrap("graph lookup existing edge", err)
	}
	return id, nil
}

func (b *Backend) Upsert(ctx context.Context, e types.Edge) (int64, error) {
	metaJSON, err := json.Marshal(metaOrEmpty(e.Meta))
	if err != nil {
		return 0, fmt.Errorf("%w: marshal edge meta: %v", cmlerr.ErrValidation, err)
	}
	// last_insert_rowid() is left unchanged by the UPDATE branch of an
	// upsert, so it can't be trusted here; look the row up by its unique
	// key instead of reading res.LastInsertId().
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO graph_edges (src_type, src_id, rel_type, dst_type, dst_id, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(src_id, rel_type, dst_id) DO UPDATE SET meta = excluded.meta
	`, e.SrcType, e.SrcID, string(e.RelType), e.DstType, e.DstID, string(metaJSON), formatTime(b.nowFunc()))
	if err != nil {
		return 0, cmlerr.Wrap("graph upsert", err)
	}
	return b.edgeID(ctx, e.SrcID, e.RelType, e.DstID)
}

func scanEdges(rows *sql.Rows) ([]types.Edge, error) {
	var out []types.Edge
	for rows.Next() {
		var (
			e        types.Edge
			metaJSON string
			created  string
		)
		if err := rows.Scan(&e.EdgeID, &e.SrcType, &e.SrcID, &e.RelType, &e.DstType, &e.DstID, &metaJSON, &created); err != nil {
			return nil, cmlerr.Wrap("graph scan edge", err)
		}
		md := types.Metadata{}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &md); err != nil {
				return nil, fmt.Errorf("graph: parse edge meta: %w", err)
			}
		}
		e.Meta = md
		ts, err := parseTime(created)
		if err != nil {
			return nil, fmt.Errorf("graph: parse edge created_at: %w", err)
		}
		e.CreatedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

const edgeColumns = `edge_id, src_type, src_id, rel_type, dst_type, dst_id, meta, created_at`

func qualifiedEdgeColumns(alias string) string {
	cols := []string{"edge_id", "src_type", "src_id", "rel_type", "dst_type", "dst_id", "meta", "created_at"}
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func (b *Backend) FindBySrc(ctx context.Context, srcID string) ([]types.Edge, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM graph_edges WHERE src_id = ?`, srcID)
	if err != nil {
		return nil, cmlerr.Wrap("graph find by src", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (b *Backend) FindByDst(ctx context.Context, dstID string) ([]types.Edge, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM graph_edges WHERE dst_id = ?`, dstID)
	if err != nil {
		return nil, cmlerr.Wrap("graph find by dst", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (b *Backend) FindByEndpoints(ctx context.Context, srcID, dstID string) ([]types.Edge, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM graph_edges WHERE src_id = ? AND dst_id = ?`, srcID, dstID)
	if err != nil {
		return nil, cmlerr.Wrap("graph find by endpoints", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Delete removes the edge by id. Unlike some adjacency-table drivers in
// the wild, database/sql surfaces RowsAffected reliably here, so Delete
// reports ErrNotFound rather than silently succeeding on a missing row.
func (b *Backend) Delete(ctx context.Context, edgeID int64) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM graph_edges WHERE edge_id = ?`, edgeID)
	if err != nil {
		return cmlerr.Wrap("graph delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cmlerr.Wrap("graph delete rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: edge %d", cmlerr.ErrNotFound, edgeID)
	}
	return nil
}

func (b *Backend) ReplaceEdges(ctx context.Context, srcID string, relType types.RelType, edges []types.Edge) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return cmlerr.Wrap("graph replace begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE src_id = ? AND rel_type = ?`, srcID, string(relType)); err != nil {
		return cmlerr.Wrap("graph replace delete", err)
	}

	now := formatTime(b.nowFunc())
	for _, e := range edges {
		metaJSON, err := json.Marshal(metaOrEmpty(e.Meta))
		if err != nil {
			return fmt.Errorf("%w: marshal edge meta: %v", cmlerr.ErrValidation, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (src_type, src_id, rel_type, dst_type, dst_id, meta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(src_id, rel_type, dst_id) DO UPDATE SET meta = excluded.meta
		`, e.SrcType, srcID, string(relType), e.DstType, e.DstID, string(metaJSON), now); err != nil {
			return cmlerr.Wrap("graph replace insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cmlerr.Wrap("graph replace commit", err)
	}
	return nil
}

// GetEffectiveBlockers resolves blocked_by(taskID) through a single hop
// of resolves_to: if the blocker b has an edge b -resolves_to-> x, b is
// treated as resolved and dropped from the result.
func (b *Backend) GetEffectiveBlockers(ctx context.Context, taskID string) ([]types.Edge, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+qualifiedEdgeColumns("bl")+`
		FROM graph_edges bl
		WHERE bl.src_id = ? AND bl.rel_type = ?
		  AND NOT EXISTS (
		      SELECT 1 FROM graph_edges res
		      WHERE res.src_id = bl.dst_id AND res.rel_type = ?
		  )
	`, taskID, string(types.RelBlockedBy), string(types.RelResolvesTo))
	if err != nil {
		return nil, cmlerr.Wrap("graph effective blockers", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindRelatedEntries performs the 2-hop evidence_of -> evidence_of
// self-join, excluding entryID.
func (b *Backend) FindRelatedEntries(ctx context.Context, entryID string) ([]types.Edge, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT `+qualifiedEdgeColumns("hop2")+`
		FROM graph_edges hop1
		JOIN graph_edges hop2 ON hop2.src_id = hop1.dst_id
		WHERE hop1.src_id = ? AND hop1.rel_type = ? AND hop2.rel_type = ?
		  AND hop2.dst_id != ?
	`, entryID, string(types.RelEvidenceOf), string(types.RelEvidenceOf), entryID)
	if err != nil {
		return nil, cmlerr.Wrap("graph related entries", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func metaOrEmpty(m types.Metadata) types.Metadata {
	if m == nil {
		return types.Metadata{}
	}
	return m
}
