package domain

import "strings"

// ValidateDocument checks a Document before it enters the ingestion pipeline.
func ValidateDocument(doc Document) error {
	if strings.TrimSpace(doc.DocID) == "" {
		return NewValidationError("doc_id", doc.DocID, ErrEmptyDocID)
	}
	if s, ok := MetaString(doc.Metadata, MetaSource); !ok || s == "" {
		return NewValidationError("metadata.source", doc.DocID, ErrMissingSource)
	}
	return nil
}

// ValidateQuestion rejects blank questions.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	return nil
}
