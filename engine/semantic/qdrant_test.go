package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kbqa/kbqa/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	scrollResp *pb.ScrollResponse
	scrollErr  error
	countResp  *pb.CountResponse
	countErr   error
}

func (m *mockPoints) Upsert(_ context.Context, req *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = req
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Search(_ context.Context, req *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = req
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Scroll(_ context.Context, _ *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	return m.scrollResp, m.scrollErr
}
func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	return m.countResp, m.countErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	listCalls int
	createReq *pb.CreateCollection
	createErr error
	deleteErr error
	deleted   bool
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	m.listCalls++
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, req *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = req
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted = true
	return &pb.CollectionOperationResponse{Result: true}, m.deleteErr
}

func emptyList() *pb.ListCollectionsResponse {
	return &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{}}
}

func sampleRecords() []domain.ChunkRecord {
	return []domain.ChunkRecord{
		{ID: "a.txt::chunk0", Text: "alpha", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{
			domain.MetaSource: "data/a.txt", domain.MetaChunkIndex: 0, domain.MetaEmbeddingDim: 3, "weight": 0.5, "draft": false,
		}},
		{ID: "a.txt::chunk1", Text: "beta", Embedding: []float32{0, 1, 0}, Metadata: map[string]any{domain.MetaSource: "data/a.txt"}},
	}
}

// --- Tests ---

func TestQdrant_NameAndClose(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{}, "docs")
	if q.Name() != "docs" {
		t.Fatalf("unexpected name %q", q.Name())
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestQdrant_UpsertCreatesCollectionOnce(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listResp: emptyList()}
	q := NewQdrantWithClients(pts, cols, "docs")

	if err := q.Upsert(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if cols.createReq == nil {
		t.Fatal("expected collection to be created")
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 3 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected vector params: %v", params)
	}

	if err := q.Upsert(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if cols.listCalls != 1 {
		t.Fatalf("expected a single existence check, got %d", cols.listCalls)
	}
}

func TestQdrant_UpsertPayloadAndIDs(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "docs"}},
	}}
	q := NewQdrantWithClients(pts, cols, "docs")

	if err := q.Upsert(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if cols.createReq != nil {
		t.Fatal("existing collection must not be recreated")
	}
	req := pts.upsertReq
	if req.GetCollectionName() != "docs" || !req.GetWait() {
		t.Fatalf("unexpected upsert request: %v", req)
	}
	if len(req.GetPoints()) != 2 {
		t.Fatalf("expected 2 points, got %d", len(req.GetPoints()))
	}
	p := req.GetPoints()[0]
	if p.GetId().GetUuid() != PointID("a.txt::chunk0") {
		t.Errorf("point id not derived from chunk id: %s", p.GetId().GetUuid())
	}
	pl := p.GetPayload()
	if pl[payloadContent].GetStringValue() != "alpha" || pl[payloadChunkID].GetStringValue() != "a.txt::chunk0" {
		t.Errorf("missing content/chunk id in payload: %v", pl)
	}
	if pl[domain.MetaChunkIndex].GetIntegerValue() != 0 || pl[domain.MetaEmbeddingDim].GetIntegerValue() != 3 {
		t.Errorf("integer metadata not preserved: %v", pl)
	}
	if pl["weight"].GetDoubleValue() != 0.5 || pl["draft"].GetBoolValue() {
		t.Errorf("typed metadata not preserved: %v", pl)
	}
}

func TestQdrant_UpsertValidation(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{listResp: emptyList()}, "docs")
	bad := [][]domain.ChunkRecord{
		{{ID: "", Embedding: []float32{1}}},
		{{ID: "x", Embedding: nil}},
		{{ID: "x", Embedding: []float32{1, 2}}, {ID: "y", Embedding: []float32{1}}},
	}
	for _, recs := range bad {
		if err := q.Upsert(context.Background(), recs); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("expected ErrInvalidParameter, got %v", err)
		}
	}
	if err := q.Upsert(context.Background(), nil); err != nil {
		t.Errorf("empty upsert should be a no-op, got %v", err)
	}
}

func TestQdrant_UpsertErrors(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "docs")
	if err := q.Upsert(context.Background(), sampleRecords()); err == nil {
		t.Fatal("expected list error")
	}
	q = NewQdrantWithClients(&mockPoints{}, &mockCollections{listResp: emptyList(), createErr: errors.New("create fail")}, "docs")
	if err := q.Upsert(context.Background(), sampleRecords()); err == nil {
		t.Fatal("expected create error")
	}
	q = NewQdrantWithClients(&mockPoints{upsertErr: errors.New("upsert fail")}, &mockCollections{listResp: emptyList()}, "docs")
	if err := q.Upsert(context.Background(), sampleRecords()); err == nil {
		t.Fatal("expected upsert error")
	}
}

func TestQdrant_QueryConvertsScoreToDistance(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Id: pb.NewID(PointID("a::chunk0")), Score: 0.9, Payload: map[string]*pb.Value{
			payloadContent: pb.NewValueString("closest"),
			payloadChunkID: pb.NewValueString("a::chunk0"),
			"source":       pb.NewValueString("a.txt"),
			"chunk_index":  pb.NewValueInt(0),
		}},
		{Id: pb.NewID(PointID("b::chunk0")), Score: 0.25, Payload: map[string]*pb.Value{
			payloadContent: pb.NewValueString("further"),
		}},
		{Id: pb.NewID(PointID("c::chunk0")), Score: 1.0000001},
	}}}
	q := NewQdrantWithClients(pts, &mockCollections{}, "docs")

	got, err := q.Query(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if pts.searchReq.GetLimit() != 3 || !pts.searchReq.GetWithPayload().GetEnable() {
		t.Fatalf("unexpected search request: %v", pts.searchReq)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 contexts, got %d", len(got))
	}
	if got[0].Text != "closest" || got[0].Source() != "a.txt" {
		t.Errorf("unexpected first context: %+v", got[0])
	}
	if _, ok := got[0].Metadata[payloadChunkID]; ok {
		t.Error("reserved payload keys must not leak into metadata")
	}
	if d := got[0].Distance; d < 0.099 || d > 0.101 {
		t.Errorf("expected distance ~0.1, got %f", d)
	}
	if d := got[1].Distance; d < 0.749 || d > 0.751 {
		t.Errorf("expected distance ~0.75, got %f", d)
	}
	if got[2].Distance != 0 {
		t.Errorf("distance must be clamped at 0, got %f", got[2].Distance)
	}
	if got[1].Source() != domain.UnknownSource {
		t.Errorf("expected unknown source, got %q", got[1].Source())
	}
}

func TestQdrant_QueryInvalidK(t *testing.T) {
	q := NewQdrantWithClients(&mockPoints{}, &mockCollections{}, "docs")
	if _, err := q.Query(context.Background(), []float32{1}, 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestQdrant_MissingCollectionReadsEmpty(t *testing.T) {
	nf := status.Error(codes.NotFound, "collection docs not found")
	q := NewQdrantWithClients(&mockPoints{searchErr: nf, scrollErr: nf, countErr: nf}, &mockCollections{}, "docs")
	ctx := context.Background()

	if got, err := q.Query(ctx, []float32{1}, 2); err != nil || len(got) != 0 {
		t.Fatalf("Query: %v, %v", got, err)
	}
	if got, err := q.Peek(ctx, 1); err != nil || len(got) != 0 {
		t.Fatalf("Peek: %v, %v", got, err)
	}
	if n, err := q.Count(ctx); err != nil || n != 0 {
		t.Fatalf("Count: %d, %v", n, err)
	}
}

func TestQdrant_ReadErrors(t *testing.T) {
	boom := status.Error(codes.Unavailable, "down")
	q := NewQdrantWithClients(&mockPoints{searchErr: boom, scrollErr: boom, countErr: boom}, &mockCollections{}, "docs")
	ctx := context.Background()
	if _, err := q.Query(ctx, []float32{1}, 2); err == nil {
		t.Error("expected search error")
	}
	if _, err := q.Peek(ctx, 1); err == nil {
		t.Error("expected scroll error")
	}
	if _, err := q.Count(ctx); err == nil {
		t.Error("expected count error")
	}
}

func TestQdrant_PeekAndCount(t *testing.T) {
	pts := &mockPoints{
		scrollResp: &pb.ScrollResponse{Result: []*pb.RetrievedPoint{
			{Id: pb.NewID(PointID("a::chunk0")), Payload: map[string]*pb.Value{
				payloadContent:            pb.NewValueString("alpha"),
				payloadChunkID:            pb.NewValueString("a::chunk0"),
				domain.MetaEmbeddingModel: pb.NewValueString("text-embedding-3-small"),
				domain.MetaEmbeddingDim:   pb.NewValueInt(1536),
			}},
		}},
		countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 42}},
	}
	q := NewQdrantWithClients(pts, &mockCollections{}, "docs")

	recs, err := q.Peek(context.Background(), 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Peek: %v, %v", recs, err)
	}
	if recs[0].ID != "a::chunk0" || recs[0].Text != "alpha" {
		t.Errorf("unexpected record: %+v", recs[0])
	}
	if dim, ok := domain.MetaInt(recs[0].Metadata, domain.MetaEmbeddingDim); !ok || dim != 1536 {
		t.Errorf("unexpected dim %v", recs[0].Metadata)
	}
	if n, err := q.Count(context.Background()); err != nil || n != 42 {
		t.Fatalf("Count: %d, %v", n, err)
	}
	if recs, _ := q.Peek(context.Background(), 0); recs != nil {
		t.Error("limit 0 should return nothing")
	}
}

func TestQdrant_Reset(t *testing.T) {
	cols := &mockCollections{listResp: emptyList()}
	q := NewQdrantWithClients(&mockPoints{}, cols, "docs")
	ctx := context.Background()
	if err := q.Upsert(ctx, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	if err := q.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !cols.deleted {
		t.Fatal("expected collection delete")
	}
	cols.createReq = nil
	if err := q.Upsert(ctx, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	if cols.createReq == nil {
		t.Fatal("collection should be recreated after reset")
	}

	cols.deleteErr = status.Error(codes.NotFound, "missing")
	if err := q.Reset(ctx); err != nil {
		t.Fatalf("reset of a missing collection should succeed, got %v", err)
	}
	cols.deleteErr = errors.New("fail")
	if err := q.Reset(ctx); err == nil {
		t.Fatal("expected delete error")
	}
}

func TestPointID_Deterministic(t *testing.T) {
	if PointID("a::chunk0") != PointID("a::chunk0") {
		t.Fatal("point id must be stable")
	}
	if PointID("a::chunk0") == PointID("a::chunk1") {
		t.Fatal("distinct chunks must map to distinct points")
	}
}
