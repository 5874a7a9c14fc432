package rag

import (
	"context"
	"fmt"

	"github.com/kbqa/kbqa/engine/domain"
)

// Embedder abstracts the embedding gateway.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher abstracts nearest-neighbour lookup in the vector store.
type Searcher interface {
	Query(ctx context.Context, embedding []float32, k int) ([]domain.Context, error)
}

// Retriever turns a query string into the k nearest stored chunks.
type Retriever struct {
	embed  Embedder
	search Searcher
}

// NewRetriever creates a Retriever.
func NewRetriever(embed Embedder, search Searcher) *Retriever {
	return &Retriever{embed: embed, search: search}
}

// Retrieve embeds query once and returns the store's matches in the order
// the store ranked them.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Context, error) {
	if k < 1 {
		return nil, domain.InvalidParameterf("rag.retrieve", "k must be >= 1, got %d", k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vecs, err := r.embed.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, domain.Upstreamf("rag.retrieve", "expected 1 query embedding, got %d", len(vecs))
	}

	contexts, err := r.search.Query(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: semantic search: %w", err)
	}
	return contexts, nil
}
