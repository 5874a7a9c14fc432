// Package guard refuses to serve queries against a vector store whose
// vectors were produced by a different embedding model.
package guard

import (
	"context"
	"fmt"

	"github.com/kbqa/kbqa/engine/domain"
)

// Peeker is the read the guard needs from a collection.
type Peeker interface {
	Peek(ctx context.Context, limit int) ([]domain.ChunkRecord, error)
}

// Signature is the embedding model stamped on stored records.
type Signature struct {
	Model string
	Dim   int
}

// ReadSignature inspects one stored record. It returns nil when the
// collection is empty or the record predates model stamping.
func ReadSignature(ctx context.Context, coll Peeker) (*Signature, error) {
	recs, err := coll.Peek(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("guard: peek: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	meta := recs[0].Metadata
	model, ok := domain.MetaString(meta, domain.MetaEmbeddingModel)
	if !ok || model == "" {
		return nil, nil
	}
	dim, ok := domain.MetaInt(meta, domain.MetaEmbeddingDim)
	if !ok {
		return nil, nil
	}
	return &Signature{Model: model, Dim: dim}, nil
}

// AssertCompatible fails with ErrConfiguration when the stored model differs
// from model. Unknown signatures pass. The dimension is not compared.
func AssertCompatible(ctx context.Context, coll Peeker, model string) error {
	sig, err := ReadSignature(ctx, coll)
	if err != nil {
		return err
	}
	if sig == nil || sig.Model == model {
		return nil
	}
	return domain.Configurationf("guard",
		"vector store incompatible: stored embedding_model=%q but current EMBEDDING_MODEL=%q; re-ingest or use a new collection",
		sig.Model, model)
}
