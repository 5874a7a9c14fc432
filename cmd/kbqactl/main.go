// Command kbqactl ingests documents, runs the ingestion worker, asks
// one-off questions and evaluates a running API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kbqa/kbqa/engine/config"
	"github.com/kbqa/kbqa/engine/guard"
	"github.com/kbqa/kbqa/engine/ingest"
	"github.com/kbqa/kbqa/engine/llm"
	"github.com/kbqa/kbqa/engine/rag"
	"github.com/kbqa/kbqa/engine/semantic"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once config is loaded.
type app struct {
	configPath string
	cfg        config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kbqactl",
		Short:         "Knowledge-base question answering toolkit",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")

	root.AddCommand(
		newIngestCmd(a),
		newWorkerCmd(a),
		newAskCmd(a),
		newEvalCmd(a),
	)
	return root
}

func (a *app) embedClient() *llm.EmbedClient {
	return llm.NewEmbedClient(llm.Options{
		APIKey:  a.cfg.OpenAIAPIKey,
		BaseURL: a.cfg.OpenAIBaseURL,
		Model:   a.cfg.EmbeddingModel,
		Timeout: a.cfg.HTTPTimeout,
	})
}

func (a *app) chatClient() *llm.ChatClient {
	return llm.NewChatClient(llm.Options{
		APIKey:  a.cfg.OpenAIAPIKey,
		BaseURL: a.cfg.OpenAIBaseURL,
		Model:   a.cfg.OpenAIModel,
		Timeout: a.cfg.HTTPTimeout,
	})
}

// ingester opens the configured collection and builds an Ingester over it.
// The caller closes the returned collection.
func (a *app) ingester(ctx context.Context) (*ingest.Ingester, semantic.Collection, error) {
	coll, err := semantic.Open(ctx, a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}
	in, err := ingest.New(ingest.Deps{
		Embedder:     a.embedClient(),
		Store:        coll,
		Model:        a.cfg.EmbeddingModel,
		ChunkSize:    a.cfg.ChunkSize,
		ChunkOverlap: a.cfg.ChunkOverlap,
		Logger:       a.log,
	})
	if err != nil {
		coll.Close()
		return nil, nil, err
	}
	return in, coll, nil
}

// service opens the collection, checks it was built with the configured
// embedding model and returns a ready pipeline.
func (a *app) service(ctx context.Context) (*rag.Service, semantic.Collection, error) {
	coll, err := semantic.Open(ctx, a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}
	if err := guard.AssertCompatible(ctx, coll, a.cfg.EmbeddingModel); err != nil {
		coll.Close()
		return nil, nil, err
	}
	svc := rag.New(rag.NewRetriever(a.embedClient(), coll), a.chatClient(), rag.DefaultOptions(), a.log)
	return svc, coll, nil
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
