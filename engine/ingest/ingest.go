// Package ingest turns text files into embedded chunk records: it loads,
// validates, chunks, embeds and stores documents, either in-process or from
// a NATS queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kbqa/kbqa/engine/domain"
	"github.com/kbqa/kbqa/pkg/fn"
	"github.com/kbqa/kbqa/pkg/metrics"
)

// EmbedBatchSize is the max chunks per embedding request.
const EmbedBatchSize = 100

// Embedder produces one vector per input text, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the part of the vector store ingestion writes to.
type Store interface {
	Upsert(ctx context.Context, records []domain.ChunkRecord) error
	Reset(ctx context.Context) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder Embedder
	Store    Store
	// Model is stamped on every record as embedding_model.
	Model        string
	ChunkSize    int
	ChunkOverlap int
	Metrics      *metrics.Ingest
	Logger       *slog.Logger
}

// Batch is the value carried between pipeline stages.
type Batch struct {
	Docs    []domain.Document
	Records []domain.ChunkRecord
	Dim     int
}

// Report summarises one ingestion run.
type Report struct {
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Stored    int    `json:"stored"`
	Model     string `json:"embedding_model"`
	Dim       int    `json:"embedding_dim"`
}

// --- Pipeline Stages ---

// Validate rejects the batch if any document is invalid.
var Validate fn.Stage[Batch, Batch] = func(_ context.Context, b Batch) fn.Result[Batch] {
	for _, doc := range b.Docs {
		if err := domain.ValidateDocument(doc); err != nil {
			return fn.Err[Batch](err)
		}
	}
	return fn.Ok(b)
}

// NewChunk creates a stage that splits every document into records.
func NewChunk(size, overlap int) fn.Stage[Batch, Batch] {
	return func(_ context.Context, b Batch) fn.Result[Batch] {
		records, err := MakeChunks(b.Docs, size, overlap)
		if err != nil {
			return fn.Err[Batch](err)
		}
		b.Records = records
		return fn.Ok(b)
	}
}

// NewEmbed creates a stage that embeds records in groups of EmbedBatchSize
// and stamps embedding_model and embedding_dim on each of them.
func NewEmbed(emb Embedder, model string) fn.Stage[Batch, Batch] {
	return func(ctx context.Context, b Batch) fn.Result[Batch] {
		for _, group := range fn.Chunk(indices(len(b.Records)), EmbedBatchSize) {
			texts := make([]string, len(group))
			for j, i := range group {
				texts[j] = b.Records[i].Text
			}

			vecs, err := emb.EmbedTexts(ctx, texts)
			if err != nil {
				return fn.Err[Batch](fmt.Errorf("ingest: embed batch: %w", err))
			}
			if len(vecs) != len(texts) {
				return fn.Err[Batch](domain.Upstreamf("ingest.embed", "got %d embeddings for %d texts", len(vecs), len(texts)))
			}

			for j, i := range group {
				rec := &b.Records[i]
				rec.Embedding = vecs[j]
				rec.Metadata[domain.MetaEmbeddingModel] = model
				rec.Metadata[domain.MetaEmbeddingDim] = len(vecs[j])
				if b.Dim == 0 {
					b.Dim = len(vecs[j])
				}
			}
		}
		return fn.Ok(b)
	}
}

// NewStore creates a stage that upserts the embedded records.
func NewStore(store Store) fn.Stage[Batch, Batch] {
	return func(ctx context.Context, b Batch) fn.Result[Batch] {
		if len(b.Records) == 0 {
			return fn.Ok(b)
		}
		if err := store.Upsert(ctx, b.Records); err != nil {
			return fn.Err[Batch](fmt.Errorf("ingest: vector upsert: %w", err))
		}
		return fn.Ok(b)
	}
}

// Logged wraps s so its entry and exit are logged with the stage's duration.
func Logged[T, U any](name string, log *slog.Logger, s fn.Stage[T, U]) fn.Stage[T, U] {
	return func(ctx context.Context, t T) fn.Result[U] {
		log.Debug("stage.enter", "stage", name)
		start := time.Now()
		res := s(ctx, t)
		log.Debug("stage.exit", "stage", name, "duration", time.Since(start), "ok", res.IsOk())
		return res
	}
}

// NewPipeline composes Validate → Chunk → Embed → Store, each stage logged
// and wrapped in a trace span.
func NewPipeline(deps Deps) fn.Stage[Batch, Batch] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	stage := func(name string, s fn.Stage[Batch, Batch]) fn.Stage[Batch, Batch] {
		return fn.TracedStage("ingest."+name, Logged(name, log, s))
	}
	return fn.Pipeline(
		stage("validate", Validate),
		stage("chunk", NewChunk(deps.ChunkSize, deps.ChunkOverlap)),
		stage("embed", NewEmbed(deps.Embedder, deps.Model)),
		stage("store", NewStore(deps.Store)),
	)
}

// Ingester runs the pipeline over sets of documents.
type Ingester struct {
	deps     Deps
	pipeline fn.Stage[Batch, Batch]
	log      *slog.Logger
}

// New validates deps and builds an Ingester. When both chunk parameters are
// zero the defaults apply; an explicit zero overlap with a set size is kept.
func New(deps Deps) (*Ingester, error) {
	if deps.ChunkSize == 0 && deps.ChunkOverlap == 0 {
		deps.ChunkSize, deps.ChunkOverlap = DefaultChunkSize, DefaultChunkOverlap
	}
	if err := checkChunkParams(deps.ChunkSize, deps.ChunkOverlap); err != nil {
		return nil, err
	}
	if deps.Embedder == nil || deps.Store == nil {
		return nil, domain.Configurationf("ingest.new", "embedder and store are required")
	}
	if strings.TrimSpace(deps.Model) == "" {
		return nil, domain.Configurationf("ingest.new", "embedding model is required to stamp stored records")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Ingester{deps: deps, pipeline: NewPipeline(deps), log: deps.Logger}, nil
}

// Ingest runs docs through the pipeline. Nothing is written unless every
// document validates and every chunk is embedded.
func (in *Ingester) Ingest(ctx context.Context, docs []domain.Document) (Report, error) {
	start := time.Now()
	b, err := in.pipeline(ctx, Batch{Docs: docs}).Unwrap()
	if m := in.deps.Metrics; m != nil {
		m.Duration.Since(start)
		if err != nil {
			m.Failures.Inc()
		}
	}
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Documents: len(docs),
		Chunks:    len(b.Records),
		Stored:    len(b.Records),
		Model:     in.deps.Model,
		Dim:       b.Dim,
	}
	if m := in.deps.Metrics; m != nil {
		m.Documents.Add(int64(rep.Documents))
		m.Chunks.Add(int64(rep.Stored))
	}
	in.log.Info("ingest: stored", "documents", rep.Documents, "chunks", rep.Stored,
		"embedding_model", rep.Model, "embedding_dim", rep.Dim)
	return rep, nil
}

// IngestDir loads every text file under dir and ingests it. With reset the
// collection is emptied first.
func (in *Ingester) IngestDir(ctx context.Context, dir string, reset bool) (Report, error) {
	docs, err := LoadTextDocuments(dir)
	if err != nil {
		return Report{}, err
	}
	in.log.Info("ingest: loaded", "dir", dir, "documents", len(docs))

	if reset {
		if err := in.deps.Store.Reset(ctx); err != nil {
			return Report{}, fmt.Errorf("ingest: reset: %w", err)
		}
		in.log.Info("ingest: collection reset")
	}
	return in.Ingest(ctx, docs)
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
