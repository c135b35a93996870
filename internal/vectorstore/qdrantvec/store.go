// Package qdrantvec is the optional remote Vector Store backend (C2),
// for deployments that want a shared or larger-than-memory index than
// localvec's flat shard provides. Same VectorStore interface, same
// single-writer discipline — only the vector worker ever calls it.
package qdrantvec

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cml-project/cml/internal/cmlerr"
	"github.com/cml-project/cml/internal/types"
	"github.com/cml-project/cml/internal/vectorstore"
)

// pointNamespace namespaces deterministicUUID so two different event
// stores that happen to share a legacy non-UUID id don't collide.
var pointNamespace = uuid.MustParse("6f6d6e1a-9b2f-4e7d-8c40-2f1a9d6b7c3e")

func deterministicUUID(seed string) string {
	return uuid.NewSHA1(pointNamespace, []byte(seed)).String()
}

// Store is the sole owner of a Qdrant collection for one project.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

var _ vectorstore.Store = (*Store)(nil)

// New dials addr and ensures collection exists with the given vector
// dimensionality, cosine distance per spec.md §4.2.
func New(ctx context.Context, addr, collection string, dimensions int) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: dial qdrant %s: %v", cmlerr.ErrVectorStore, addr, err)
	}
	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := s.ensureCollection(ctx, dimensions); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, dimensions int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", cmlerr.ErrVectorStore, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", cmlerr.ErrVectorStore, s.collection, err)
	}
	return nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) Upsert(ctx context.Context, rec types.VectorRecord) error {
	return s.UpsertBatch(ctx, []types.VectorRecord{rec})
}

func (s *Store) UpsertBatch(ctx context.Context, recs []types.VectorRecord) error {
	if len(recs) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(recs))
	for i, r := range recs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointUUID(r.EventID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}},
			},
			Payload: buildPayload(r),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d points: %v", cmlerr.ErrVectorStore, len(recs), err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, eventID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("event_id", eventID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: delete event %s: %v", cmlerr.ErrVectorStore, eventID, err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("%w: collection info: %v", cmlerr.ErrVectorStore, err)
	}
	return int(info.GetResult().GetPointsCount()), nil
}

func (s *Store) Search(ctx context.Context, query []float32, topK int, filter *vectorstore.Filter) ([]types.VectorSearchHit, error) {
	if topK <= 0 {
		topK = 10
	}
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter != nil && filter.SessionID != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("session_id", filter.SessionID)}}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", cmlerr.ErrVectorStore, err)
	}

	hits := make([]types.VectorSearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		hits[i] = types.VectorSearchHit{
			ID:        r.GetId().GetUuid(),
			EventID:   stringPayload(payload, "event_id"),
			Score:     float64(r.GetScore()),
			Content:   stringPayload(payload, "content"),
			EventType: types.EventType(stringPayload(payload, "event_type")),
			SessionID: stringPayload(payload, "session_id"),
		}
	}
	return hits, nil
}

func buildPayload(r types.VectorRecord) map[string]*pb.Value {
	return map[string]*pb.Value{
		"event_id":   {Kind: &pb.Value_StringValue{StringValue: r.EventID}},
		"session_id": {Kind: &pb.Value_StringValue{StringValue: r.SessionID}},
		"event_type": {Kind: &pb.Value_StringValue{StringValue: string(r.EventType)}},
		"content":    {Kind: &pb.Value_StringValue{StringValue: r.Content}},
		"timestamp":  {Kind: &pb.Value_StringValue{StringValue: r.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")}},
	}
}

func stringPayload(m map[string]*pb.Value, key string) string {
	if v, ok := m[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// pointUUID derives a deterministic Qdrant point id from an event id.
// Qdrant point ids must be a UUID or unsigned integer; event ids here are
// already UUIDs (generated by the event store), so this is a passthrough
// guarded against legacy non-UUID ids from import.
func pointUUID(eventID string) string {
	if len(eventID) == 36 {
		return eventID
	}
	return deterministicUUID(eventID)
}
