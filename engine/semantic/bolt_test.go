package semantic

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbqa/kbqa/engine/config"
	"github.com/kbqa/kbqa/engine/domain"
)

func openTestBolt(t *testing.T, name string) (*BoltStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenBolt(dir, name)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func rec(id, text string, emb ...float32) domain.ChunkRecord {
	return domain.ChunkRecord{
		ID:        id,
		Text:      text,
		Embedding: emb,
		Metadata:  map[string]any{domain.MetaSource: id + ".txt", domain.MetaChunkIndex: 0},
	}
}

func TestBolt_QueryOrdersByDistance(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{
		rec("east", "points east", 1, 0),
		rec("north", "points north", 0, 1),
		rec("northeast", "points northeast", 1, 1),
		rec("west", "points west", -1, 0),
	}))

	got, err := s.Query(ctx, []float32{1, 0.1}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "points east", got[0].Text)
	assert.Equal(t, "points northeast", got[1].Text)
	assert.Equal(t, "points north", got[2].Text)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Distance, got[i].Distance)
	}
	for _, c := range got {
		assert.GreaterOrEqual(t, c.Distance, 0.0)
	}
	assert.Equal(t, "east.txt", got[0].Source())
}

func TestBolt_QueryFewerThanK(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{rec("a", "a", 1, 0)}))

	got, err := s.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
}

func TestBolt_QueryEmptyAndInvalid(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()

	got, err := s.Query(ctx, []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Query(ctx, []float32{1, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestBolt_QueryDimensionMismatch(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{rec("a", "a", 1, 0, 0)}))

	_, err := s.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestBolt_UpsertReplacesByID(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{rec("a::chunk0", "old", 1, 0)}))
	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{rec("a::chunk0", "new", 0, 1)}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Query(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", got[0].Text)
}

func TestBolt_UpsertValidation(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()

	assert.NoError(t, s.Upsert(ctx, nil))
	assert.ErrorIs(t, s.Upsert(ctx, []domain.ChunkRecord{{ID: "x"}}), domain.ErrInvalidParameter)
	assert.ErrorIs(t, s.Upsert(ctx, []domain.ChunkRecord{rec("", "t", 1)}), domain.ErrInvalidParameter)

	n, _ := s.Count(ctx)
	assert.Equal(t, 0, n, "rejected batches must not be written")
}

func TestBolt_PeekStripsEmbeddings(t *testing.T) {
	s, _ := openTestBolt(t, "docs")
	ctx := context.Background()
	r := rec("a::chunk0", "alpha", 1, 0)
	r.Metadata[domain.MetaEmbeddingModel] = "text-embedding-3-small"
	r.Metadata[domain.MetaEmbeddingDim] = 2
	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{r, rec("b::chunk0", "beta", 0, 1)}))

	got, err := s.Peek(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a::chunk0", got[0].ID)
	assert.Nil(t, got[0].Embedding)
	model, _ := domain.MetaString(got[0].Metadata, domain.MetaEmbeddingModel)
	assert.Equal(t, "text-embedding-3-small", model)
	dim, ok := domain.MetaInt(got[0].Metadata, domain.MetaEmbeddingDim)
	assert.True(t, ok)
	assert.Equal(t, 2, dim)

	none, err := s.Peek(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBolt_ResetAndPersistence(t *testing.T) {
	s, dir := openTestBolt(t, "docs")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, []domain.ChunkRecord{rec("a", "a", 1, 0), rec("b", "b", 0, 1)}))
	require.NoError(t, s.Close())

	reopened, err := OpenBolt(dir, "docs")
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "records must survive reopening")

	require.NoError(t, reopened.Reset(ctx))
	n, err = reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, reopened.Close())
}

func TestBolt_CollectionsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := OpenBolt(dir, "a")
	require.NoError(t, err)
	require.NoError(t, a.Upsert(ctx, []domain.ChunkRecord{rec("x", "x", 1)}))
	require.NoError(t, a.Close())

	b, err := OpenBolt(dir, "b")
	require.NoError(t, err)
	defer b.Close()
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.FileExists(t, filepath.Join(dir, BoltFile))
}

func TestOpen_Backends(t *testing.T) {
	cfg := config.Default()
	cfg.VectorDBDir = t.TempDir()
	cfg.Collection = "docs"

	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "docs", c.Name())
	assert.IsType(t, &BoltStore{}, c)
	require.NoError(t, c.Close())

	cfg.VectorBackend = config.BackendQdrant
	c, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &QdrantStore{}, c)
	require.NoError(t, c.Close())

	cfg.VectorBackend = "chroma"
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestCosineDistance(t *testing.T) {
	d, err := cosineDistance([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)

	d, err = cosineDistance([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-9)

	d, err = cosineDistance([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)

	_, err = cosineDistance([]float32{1}, []float32{1, 0})
	assert.Error(t, err)
}
