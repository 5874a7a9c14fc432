// Package semantic owns the vector store. It exposes a single Collection
// abstraction backed either by a local bbolt file or by a remote Qdrant
// instance.
package semantic

import (
	"context"
	"fmt"
	"math"

	"github.com/kbqa/kbqa/engine/config"
	"github.com/kbqa/kbqa/engine/domain"
)

// Collection is a named, durable set of chunk records.
type Collection interface {
	// Name returns the collection name.
	Name() string
	// Upsert inserts or replaces records by id.
	Upsert(ctx context.Context, records []domain.ChunkRecord) error
	// Query returns at most k records in ascending distance from embedding.
	Query(ctx context.Context, embedding []float32, k int) ([]domain.Context, error)
	// Peek returns up to limit stored records without embeddings.
	Peek(ctx context.Context, limit int) ([]domain.ChunkRecord, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Reset drops every record in the collection.
	Reset(ctx context.Context) error
	Close() error
}

// Open returns the collection configured by cfg, creating it if absent.
func Open(ctx context.Context, cfg config.Config) (Collection, error) {
	switch cfg.VectorBackend {
	case config.BackendBolt, "":
		return OpenBolt(cfg.VectorDBDir, cfg.Collection)
	case config.BackendQdrant:
		return NewQdrant(ctx, cfg.QdrantURL, cfg.Collection)
	default:
		return nil, domain.Configurationf("semantic.open", "unknown vector backend %q", cfg.VectorBackend)
	}
}

// validateRecords checks a batch before it is written and returns its
// embedding dimension.
func validateRecords(op string, records []domain.ChunkRecord) (int, error) {
	dim := 0
	for i, r := range records {
		if r.ID == "" {
			return 0, domain.InvalidParameterf(op, "record %d has an empty id", i)
		}
		if len(r.Embedding) == 0 {
			return 0, domain.InvalidParameterf(op, "record %s has no embedding", r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
		} else if len(r.Embedding) != dim {
			return 0, domain.InvalidParameterf(op, "record %s has dimension %d, batch has %d", r.ID, len(r.Embedding), dim)
		}
	}
	return dim, nil
}

func checkK(op string, k int) error {
	if k < 1 {
		return domain.InvalidParameterf(op, "k must be >= 1, got %d", k)
	}
	return nil
}

// cosineDistance returns 1 - cos(a, b), clamped to [0, 2]. A zero vector is
// treated as orthogonal to everything.
func cosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	return clampDistance(1 - dot/(math.Sqrt(na)*math.Sqrt(nb))), nil
}

func clampDistance(d float64) float64 {
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	default:
		return d
	}
}
