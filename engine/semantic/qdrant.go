package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/kbqa/kbqa/engine/domain"
)

// Payload keys reserved by the Qdrant backend.
const (
	payloadContent = "content"
	payloadChunkID = "chunk_id"
)

// pointsAPI is the subset of pb.PointsClient used here.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient used here.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore is the sole owner of all Qdrant operations for one collection.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string

	mu      sync.Mutex
	ensured bool
}

// NewQdrant connects to Qdrant at the given gRPC address. The collection is
// created lazily on the first upsert, when the vector size is known.
func NewQdrant(_ context.Context, addr, collection string) (*QdrantStore, error) {
	if collection == "" {
		return nil, domain.Configurationf("semantic.qdrant", "collection name is empty")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewQdrantWithClients builds a store on pre-made clients. Close is a no-op.
func NewQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string) *QdrantStore {
	return &QdrantStore{points: points, collections: collections, collection: collection}
}

// Name implements Collection.
func (q *QdrantStore) Name() string { return q.collection }

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// ensureCollection creates the collection if it doesn't exist.
func (q *QdrantStore) ensureCollection(ctx context.Context, dims int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured {
		return nil
	}

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			q.ensured = true
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", q.collection, err)
	}
	q.ensured = true
	return nil
}

// PointID maps a chunk id onto the deterministic UUID Qdrant stores it under.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// Upsert stores chunk records. Qdrant replaces points with the same id.
func (q *QdrantStore) Upsert(ctx context.Context, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	dims, err := validateRecords("semantic.upsert", records)
	if err != nil {
		return err
	}
	if err := q.ensureCollection(ctx, dims); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Metadata)+2)
		for k, val := range r.Metadata {
			payload[k] = toValue(val)
		}
		payload[payloadContent] = pb.NewValueString(r.Text)
		payload[payloadChunkID] = pb.NewValueString(r.ID)

		points[i] = &pb.PointStruct{
			Id:      pb.NewID(PointID(r.ID)),
			Vectors: pb.NewVectorsDense(r.Embedding),
			Payload: payload,
		}
	}

	wait := true
	_, err = q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Query performs k-NN cosine search. Qdrant reports similarity, which is
// converted to distance as 1 - score.
func (q *QdrantStore) Query(ctx context.Context, embedding []float32, k int) ([]domain.Context, error) {
	if err := checkK("semantic.query", k); err != nil {
		return nil, err
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         embedding,
		Limit:          uint64(k),
		WithPayload:    pb.NewWithPayloadEnable(true),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	out := make([]domain.Context, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		text, _, meta := fromPayload(r.GetPayload())
		out[i] = domain.Context{
			Text:     text,
			Metadata: meta,
			Distance: clampDistance(1 - float64(r.GetScore())),
		}
	}
	return out, nil
}

// Peek scrolls the first limit points.
func (q *QdrantStore) Peek(ctx context.Context, limit int) ([]domain.ChunkRecord, error) {
	if limit < 1 {
		return nil, nil
	}
	n := uint32(limit)
	resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: q.collection,
		Limit:          &n,
		WithPayload:    pb.NewWithPayloadEnable(true),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: scroll: %w", err)
	}
	out := make([]domain.ChunkRecord, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		text, id, meta := fromPayload(p.GetPayload())
		if id == "" {
			id = p.GetId().GetUuid()
		}
		out = append(out, domain.ChunkRecord{ID: id, Text: text, Metadata: meta})
	}
	return out, nil
}

// Count returns the exact number of points.
func (q *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Reset deletes the collection. It is recreated by the next Upsert.
func (q *QdrantStore) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("semantic: delete collection %s: %w", q.collection, err)
	}
	q.ensured = false
	return nil
}

func isNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

func toValue(val any) *pb.Value {
	switch tv := val.(type) {
	case nil:
		return pb.NewValueNull()
	case string:
		return pb.NewValueString(tv)
	case int:
		return pb.NewValueInt(int64(tv))
	case int64:
		return pb.NewValueInt(tv)
	case float64:
		return pb.NewValueDouble(tv)
	case float32:
		return pb.NewValueDouble(float64(tv))
	case bool:
		return pb.NewValueBool(tv)
	default:
		return pb.NewValueString(fmt.Sprint(tv))
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_NullValue, nil:
		return nil
	default:
		return v.String()
	}
}

// fromPayload splits a point payload into chunk text, chunk id and metadata.
func fromPayload(payload map[string]*pb.Value) (text, id string, meta map[string]any) {
	meta = make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case payloadContent:
			text = v.GetStringValue()
		case payloadChunkID:
			id = v.GetStringValue()
		default:
			meta[k] = fromValue(v)
		}
	}
	return text, id, meta
}
