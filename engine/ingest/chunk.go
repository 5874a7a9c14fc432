package ingest

import (
	"strings"

	"github.com/kbqa/kbqa/engine/domain"
)

const (
	// DefaultChunkSize is the window length in characters.
	DefaultChunkSize = 500
	// DefaultChunkOverlap is the number of characters shared by consecutive windows.
	DefaultChunkOverlap = 80
)

func checkChunkParams(size, overlap int) error {
	switch {
	case size <= 0:
		return domain.InvalidParameterf("ingest.chunk", "chunk size must be > 0, got %d", size)
	case overlap < 0:
		return domain.InvalidParameterf("ingest.chunk", "chunk overlap must be >= 0, got %d", overlap)
	case overlap >= size:
		return domain.InvalidParameterf("ingest.chunk", "chunk overlap must be < chunk size, got %d >= %d", overlap, size)
	}
	return nil
}

// ChunkText splits text into overlapping windows of size characters. Each
// window is trimmed and blank windows are skipped. Sizes count runes, so
// multi-byte text is never cut inside a character.
func ChunkText(text string, size, overlap int) ([]string, error) {
	if err := checkChunkParams(size, overlap); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []string
	for start := 0; start < n; {
		end := min(start+size, n)
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == n {
			break
		}
		start = end - overlap
	}
	return chunks, nil
}

// MakeChunks chunks every document in order. Each record inherits the
// document's metadata plus doc_id and chunk_index; the index counts emitted
// chunks only.
func MakeChunks(docs []domain.Document, size, overlap int) ([]domain.ChunkRecord, error) {
	if err := checkChunkParams(size, overlap); err != nil {
		return nil, err
	}

	var records []domain.ChunkRecord
	for _, doc := range docs {
		chunks, err := ChunkText(doc.Text, size, overlap)
		if err != nil {
			return nil, err
		}
		for i, text := range chunks {
			meta := domain.CloneMetadata(doc.Metadata)
			meta[domain.MetaDocID] = doc.DocID
			meta[domain.MetaChunkIndex] = i
			records = append(records, domain.ChunkRecord{
				ID:       domain.ChunkID(doc.DocID, i),
				Text:     text,
				Metadata: meta,
			})
		}
	}
	return records, nil
}
