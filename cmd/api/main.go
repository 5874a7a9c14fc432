// Package main implements the kbqa API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbqa/kbqa/engine/config"
	"github.com/kbqa/kbqa/engine/domain"
	"github.com/kbqa/kbqa/engine/guard"
	"github.com/kbqa/kbqa/engine/llm"
	"github.com/kbqa/kbqa/engine/rag"
	"github.com/kbqa/kbqa/engine/semantic"
	"github.com/kbqa/kbqa/pkg/metrics"
	"github.com/kbqa/kbqa/pkg/mid"
	"github.com/kbqa/kbqa/pkg/resilience"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Vector store ---
	coll, err := semantic.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer coll.Close()

	// Refuse to serve a collection built with another embedding model.
	if err := guard.AssertCompatible(ctx, coll, cfg.EmbeddingModel); err != nil {
		return err
	}

	reg := metrics.New()
	if n, err := coll.Count(ctx); err == nil {
		reg.Gauge("kbqa_collection_records", "Records in the vector store at startup.").Set(int64(n))
	}

	// --- Build RAG service ---
	svc := buildService(cfg, coll, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHandler(cfg, svc, reg, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "backend", cfg.VectorBackend,
			"collection", cfg.Collection, "llm_model", cfg.OpenAIModel, "embedding_model", cfg.EmbeddingModel)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func buildService(cfg config.Config, coll semantic.Collection, logger *slog.Logger) *rag.Service {
	embedder := llm.NewEmbedClient(llm.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.HTTPTimeout,
	})
	var gen rag.Generator = llm.NewChatClient(llm.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.HTTPTimeout,
	})
	if cfg.BreakerFailures > 0 {
		gen = &breakerGenerator{
			next: gen,
			breaker: resilience.NewBreaker(resilience.BreakerOpts{
				FailThreshold: cfg.BreakerFailures,
				IsFailure:     func(err error) bool { return errors.Is(err, domain.ErrUpstream) },
			}),
		}
	}
	return rag.New(rag.NewRetriever(embedder, coll), gen, rag.DefaultOptions(), logger)
}

func newHandler(cfg config.Config, svc answerer, reg *metrics.Registry, logger *slog.Logger) http.Handler {
	h := &handlers{svc: svc, ask: metrics.NewAsk(reg), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", handleHealth)
	mux.HandleFunc("POST /api/v1/ask", h.handleAsk)
	mux.Handle("GET /metrics", reg.Handler())

	mw := []mid.Middleware{
		mid.OTel(cfg.AppName),
		mid.Trace(),
		mid.Logger(logger),
		mid.Recover(logger),
		mid.CORS(cfg.CORSOrigin),
	}
	if cfg.RateLimitRPS > 0 {
		mw = append(mw, mid.RateLimit(resilience.NewKeyedLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)))
	}
	mw = append(mw, mid.Metrics(metrics.NewHTTP(reg)))
	return mid.Chain(mux, mw...)
}

// breakerGenerator fails fast while the generation backend keeps failing.
type breakerGenerator struct {
	next    rag.Generator
	breaker *resilience.Breaker
}

func (g *breakerGenerator) Chat(ctx context.Context, prompt string) (string, error) {
	out, err := resilience.Do(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.next.Chat(ctx, prompt)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", domain.Upstream("llm.chat", err)
	}
	return out, err
}
