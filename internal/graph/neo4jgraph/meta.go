package neo4jgraph

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/types"
)

func marshalMeta(m types.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", cmlerr.Wrap("neo4jgraph: marshal meta", err)
	}
	return string(data), nil
}

func unmarshalMeta(raw any) types.Metadata {
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil
	}
	var m types.Metadata
	_ = json.Unmarshal([]byte(s), &m)
	return m
}

func edgeFromRelationship(rel dbtype.Relationship, srcID, dstID string) types.Edge {
	props := rel.Props
	var edgeID int64
	switch v := props["edge_id"].(type) {
	case int64:
		edgeID = v
	case float64:
		edgeID = int64(v)
	}
	return types.Edge{
		EdgeID:  edgeID,
		SrcType: stringProp(props, "src_type"),
		SrcID:   srcID,
		RelType: types.RelType(strings.ToLower(rel.Type)),
		DstType: stringProp(props, "dst_type"),
		DstID:   dstID,
		Meta:    unmarshalMeta(props["meta"]),
	}
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func scanEdgeID(ctx context.Context, result neo4j.ResultWithContext) (int64, error) {
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return 0, cmlerr.Wrap("neo4jgraph: scan edge id", err)
		}
		return 0, cmlerr.ErrNotFound
	}
	raw, _ := result.Record().Get("edge_id")
	switch v := raw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		n, _ := strconv.ParseInt(toString(v), 10, 64)
		return n, nil
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// sanitizeRelType ensures the relationship type is a valid Cypher
// identifier, upper-cased per Neo4j convention.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		switch {
		case c >= 'a' && c <= 'z':
			safe = append(safe, c-32)
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	return string(safe)
}
