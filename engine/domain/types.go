// Package domain defines the core types, metadata keys, error kinds and
// validation shared by every stage of the question-answering pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata keys written by ingestion and read back at query time.
const (
	MetaSource         = "source"
	MetaDocID          = "doc_id"
	MetaChunkIndex     = "chunk_index"
	MetaEmbeddingModel = "embedding_model"
	MetaEmbeddingDim   = "embedding_dim"
)

// UnknownSource is shown in prompts and responses when a chunk has no source.
const UnknownSource = "unknown"

// Document is a unit of source text before chunking.
type Document struct {
	DocID    string         `json:"doc_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// ChunkRecord is a chunk ready for (or returned from) the vector store.
type ChunkRecord struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Context is a retrieved chunk. Smaller Distance means more similar.
type Context struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

// Source returns the chunk's source, or UnknownSource.
func (c Context) Source() string {
	if s, ok := MetaString(c.Metadata, MetaSource); ok && s != "" {
		return s
	}
	return UnknownSource
}

// Metrics holds per-stage wall-clock timings in milliseconds.
type Metrics struct {
	RetrieveMS float64 `json:"retrieve_ms"`
	LLMMS      float64 `json:"llm_ms"`
	TotalMS    float64 `json:"total_ms"`
}

// Result is the outcome of one answered question.
type Result struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Contexts []Context `json:"contexts"`
	Metrics  Metrics   `json:"metrics"`
}

// ChunkID returns the stable identifier of the index-th chunk of a document.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s::chunk%d", docID, index)
}

// MetaString reads a string metadata value.
func MetaString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch tv := v.(type) {
	case string:
		return tv, true
	default:
		return fmt.Sprint(tv), true
	}
}

// MetaInt reads an integer metadata value. Stores that round-trip through
// JSON hand numbers back as float64 or json.Number, so those are accepted.
func MetaInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch tv := v.(type) {
	case int:
		return tv, true
	case int32:
		return int(tv), true
	case int64:
		return int(tv), true
	case float64:
		return int(tv), true
	case float32:
		return int(tv), true
	case json.Number:
		n, err := tv.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(tv)
		return n, err == nil
	default:
		return 0, false
	}
}

// CloneMetadata returns a shallow copy of m that is safe to extend.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}
