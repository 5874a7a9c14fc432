// Package rag orchestrates the Retrieval-Augmented Generation pipeline.
// It accepts a user question, retrieves the nearest stored chunks, builds a
// grounded prompt and asks the generator for the final answer.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kbqa/kbqa/engine/domain"
	"github.com/kbqa/kbqa/pkg/fn"
)

// Generator abstracts the chat-completion gateway.
type Generator interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Options configures the RAG pipeline behaviour.
type Options struct {
	TopK int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{TopK: 4}
}

// Service is the RAG orchestration service.
type Service struct {
	retriever *Retriever
	gen       Generator
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new RAG Service.
func New(retriever *Retriever, gen Generator, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK < 1 {
		opts.TopK = DefaultOptions().TopK
	}
	return &Service{
		retriever: retriever,
		gen:       gen,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// TopK returns the default number of contexts per question.
func (s *Service) TopK() int { return s.opts.TopK }

type query struct {
	question string
	k        int
}

// Answer runs retrieval then generation for one question. Any failure
// returns a nil result; partial answers are never produced.
func (s *Service) Answer(ctx context.Context, question string, k int) (*domain.Result, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, domain.InvalidParameterf("rag.answer", "k must be >= 1, got %d", k)
	}

	retrieve := fn.TracedStage("rag.retrieve", func(ctx context.Context, q query) fn.Result[[]domain.Context] {
		contexts, err := s.retriever.Retrieve(ctx, q.question, q.k)
		return fn.FromPair(contexts, err)
	})
	generate := fn.TracedStage("rag.generate", func(ctx context.Context, prompt string) fn.Result[string] {
		if err := ctx.Err(); err != nil {
			return fn.Err[string](err)
		}
		answer, err := s.gen.Chat(ctx, prompt)
		if err != nil {
			return fn.Err[string](fmt.Errorf("rag: chat: %w", err))
		}
		return fn.Ok(answer)
	})

	start := s.now()
	contexts, err := retrieve(ctx, query{question: question, k: k}).Unwrap()
	if err != nil {
		return nil, err
	}
	genStart := s.now()
	retrieveMS := millis(genStart.Sub(start))

	answer, err := generate(ctx, BuildPrompt(question, contexts)).Unwrap()
	if err != nil {
		return nil, err
	}
	end := s.now()
	llmMS := millis(end.Sub(genStart))

	s.logger.Info("rag_answer", "k", k, "retrieve_ms", retrieveMS, "llm_ms", llmMS)

	return &domain.Result{
		Question: question,
		Answer:   answer,
		Contexts: contexts,
		Metrics: domain.Metrics{
			RetrieveMS: retrieveMS,
			LLMMS:      llmMS,
			TotalMS:    millis(end.Sub(start)),
		},
	}, nil
}

// millis converts d to milliseconds rounded to two decimals.
func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
