package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/kbqa/kbqa/engine/domain"
)

func TestRetrieve_EmbedsOnceAndKeepsOrder(t *testing.T) {
	emb := &mockEmbedder{}
	search := &mockSearcher{results: sampleContexts()}
	r := NewRetriever(emb, search)

	got, err := r.Retrieve(context.Background(), "deploy", 3)
	if err != nil {
		t.Fatal(err)
	}
	if emb.calls != 1 || len(emb.last) != 1 || emb.last[0] != "deploy" {
		t.Fatalf("expected a single embedding of the query, got %d calls with %v", emb.calls, emb.last)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 contexts, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Fatalf("contexts not in non-decreasing distance: %v", got)
		}
	}
}

func TestRetrieve_AtMostK(t *testing.T) {
	r := NewRetriever(&mockEmbedder{}, &mockSearcher{results: sampleContexts()})
	for k := 1; k <= 5; k++ {
		got, err := r.Retrieve(context.Background(), "q", k)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) > k {
			t.Fatalf("k=%d: got %d contexts", k, len(got))
		}
	}
}

func TestRetrieve_InvalidK(t *testing.T) {
	emb := &mockEmbedder{}
	r := NewRetriever(emb, &mockSearcher{})
	for _, k := range []int{0, -1} {
		if _, err := r.Retrieve(context.Background(), "q", k); !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("k=%d: expected ErrInvalidParameter, got %v", k, err)
		}
	}
	if emb.calls != 0 {
		t.Fatal("invalid k must fail before embedding")
	}
}

func TestRetrieve_Errors(t *testing.T) {
	embErr := domain.Upstreamf("llm.embed", "status 500")
	if _, err := NewRetriever(&mockEmbedder{err: embErr}, &mockSearcher{}).Retrieve(context.Background(), "q", 1); !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected embed error, got %v", err)
	}

	searchErr := errors.New("store offline")
	if _, err := NewRetriever(&mockEmbedder{}, &mockSearcher{err: searchErr}).Retrieve(context.Background(), "q", 1); !errors.Is(err, searchErr) {
		t.Errorf("expected search error, got %v", err)
	}

	wrongCount := &mockEmbedder{vecs: [][]float32{{1}, {2}}}
	if _, err := NewRetriever(wrongCount, &mockSearcher{}).Retrieve(context.Background(), "q", 1); !errors.Is(err, domain.ErrUpstream) {
		t.Errorf("expected upstream error for wrong vector count, got %v", err)
	}
}

func TestRetrieve_EmptyStore(t *testing.T) {
	got, err := NewRetriever(&mockEmbedder{}, &mockSearcher{}).Retrieve(context.Background(), "q", 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no contexts, got %v", got)
	}
}
