package vectorstore

import (
	"context"
	"fmt"
	"log"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// QdrantCollection wraps a Qdrant gRPC collection. Grounded on
// niski84-the-hive/internal/vectordb.QdrantVectorDB: same
// CollectionsClient/PointsClient pair and ensure-collection-on-construct
// pattern, generalized from a single process-wide collection to one per
// {silo, domain} namespace, and from a flat string-only payload to the
// arbitrary-primitive metadata map the Query/Get contract requires.
type QdrantCollection struct {
	name       string
	collection qdrant.CollectionsClient
	points     qdrant.PointsClient
	dimensions int
}

// NewQdrantCollection connects to an existing gRPC connection and ensures
// the `{silo}_{domain}` collection exists with the given dimensionality.
func NewQdrantCollection(ctx context.Context, conn *grpc.ClientConn, silo, domain string, dimensions int) (*QdrantCollection, error) {
	if conn == nil {
		return nil, fmt.Errorf("vectorstore: grpc connection is required")
	}
	c := &QdrantCollection{
		name:       CollectionName(silo, domain),
		collection: qdrant.NewCollectionsClient(conn),
		points:     qdrant.NewPointsClient(conn),
		dimensions: dimensions,
	}
	if err := c.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("vectorstore: ensure collection %s: %w", c.name, err)
	}
	return c, nil
}

func (c *QdrantCollection) Name() string { return c.name }

func (c *QdrantCollection) ensureCollection(ctx context.Context) error {
	existing, err := c.collection.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, coll := range existing.Collections {
		if coll.Name == c.name {
			return nil
		}
	}

	_, err = c.collection.Create(ctx, &qdrant.CreateCollection{
		CollectionName: c.name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(c.dimensions),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	log.Printf("vectorstore: created qdrant collection %s (dim=%d)", c.name, c.dimensions)
	return nil
}

func (c *QdrantCollection) Upsert(ctx context.Context, ids []string, vectors [][]float32, documents []string, metadatas []map[string]interface{}) error {
	if len(ids) != len(vectors) || len(ids) != len(documents) || len(ids) != len(metadatas) {
		return fmt.Errorf("vectorstore: upsert slices must have equal length")
	}
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		payload := toQdrantPayload(metadatas[i])
		payload["document"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: documents[i]}}

		points[i] = &qdrant.PointStruct{
			Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}},
			},
			Payload: payload,
		}
	}

	_, err := c.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.name,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert: %w", err)
	}
	return nil
}

func (c *QdrantCollection) Query(ctx context.Context, vector []float32, k int, where map[string]interface{}) ([]Match, error) {
	if k <= 0 {
		k = 1
	}

	req := &qdrant.SearchPoints{
		CollectionName: c.name,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
	}
	if len(where) > 0 {
		req.Filter = toQdrantFilter(where)
	}

	result, err := c.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	matches := make([]Match, 0, len(result.Result))
	for _, point := range result.Result {
		meta := fromQdrantPayload(point.Payload)
		doc, _ := meta["document"].(string)
		delete(meta, "document")
		matches = append(matches, Match{
			ID:       pointIDString(point.Id),
			Distance: 1 - float64(point.Score),
			Document: doc,
			Metadata: meta,
		})
	}
	return matches, nil
}

func (c *QdrantCollection) Get(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 100
	}
	resp, err := c.points.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.name,
		Limit:          ptrUint32(uint32(limit)),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scroll: %w", err)
	}

	out := make([]map[string]interface{}, 0, len(resp.Result))
	for _, point := range resp.Result {
		out = append(out, fromQdrantPayload(point.Payload))
	}
	return out, nil
}

func ptrUint32(v uint32) *uint32 { return &v }

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// toQdrantPayload converts a flat primitive-valued metadata map into
// Qdrant's typed Value wire format.
func toQdrantPayload(metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float32:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

// fromQdrantPayload converts Qdrant's typed Value wire format back to a
// flat primitive-valued metadata map.
func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch kind := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		}
	}
	return out
}

// toQdrantFilter builds an equality-conjunction filter over the flat
// metadata map, matching the "where is a conjunction over flat
// key/equality predicates" contract.
func toQdrantFilter(where map[string]interface{}) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(where))
	for k, v := range where {
		match := &qdrant.Match{}
		switch val := v.(type) {
		case string:
			match.MatchValue = &qdrant.Match_Keyword{Keyword: val}
		case bool:
			match.MatchValue = &qdrant.Match_Boolean{Boolean: val}
		case int:
			match.MatchValue = &qdrant.Match_Integer{Integer: int64(val)}
		case int64:
			match.MatchValue = &qdrant.Match_Integer{Integer: val}
		default:
			match.MatchValue = &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", val)}
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{Key: k, Match: match},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}
