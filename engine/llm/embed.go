package llm

import (
	"context"

	"github.com/kbqa/kbqa/engine/domain"
)

// EmbedClient turns texts into vectors through POST {base}/embeddings.
type EmbedClient struct {
	client
}

// NewEmbedClient creates an embedding gateway. Missing credentials are
// reported on the first call, not here.
func NewEmbedClient(opts Options) *EmbedClient {
	return &EmbedClient{client: newClient(opts)}
}

// Model returns the embedding model every vector is produced with.
func (c *EmbedClient) Model() string { return c.model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     *int      `json:"index"`
	} `json:"data"`
}

// EmbedTexts returns one vector per input text, in input order. An empty
// input makes no network call.
func (c *EmbedClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "llm.embed"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := c.checkConfig(op); err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := c.postJSON(ctx, op, "/embeddings", embedRequest{Model: c.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, domain.Upstreamf(op, "response has no data")
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.Upstreamf(op, "got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		pos := i
		if d.Index != nil {
			pos = *d.Index
		}
		if pos < 0 || pos >= len(out) || out[pos] != nil {
			return nil, domain.Upstreamf(op, "embedding index %d out of range or repeated", pos)
		}
		if len(d.Embedding) == 0 {
			return nil, domain.Upstreamf(op, "embedding %d is empty", pos)
		}
		out[pos] = d.Embedding
	}
	return out, nil
}
