package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbqa/kbqa/engine/domain"
)

// TextExt is the extension of files picked up by LoadTextDocuments.
const TextExt = ".txt"

// LoadTextDocuments walks dir recursively and returns one Document per
// *.txt file, sorted by doc id. The doc id is the slash-separated path
// relative to dir and the source is the file path.
func LoadTextDocuments(dir string) ([]domain.Document, error) {
	var docs []domain.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsTextFile(path) {
			return nil
		}
		doc, err := LoadTextFile(dir, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: load %s: %w", dir, err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })
	return docs, nil
}

// LoadTextFile reads a single file below root as a Document.
func LoadTextFile(root, path string) (domain.Document, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: relative path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	return domain.Document{
		DocID:    filepath.ToSlash(rel),
		Text:     string(data),
		Metadata: map[string]any{domain.MetaSource: path},
	}, nil
}

// IsTextFile reports whether path has the ingestible extension.
func IsTextFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), TextExt)
}
