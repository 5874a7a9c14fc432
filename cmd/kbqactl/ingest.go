package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbqa/kbqa/engine/ingest"
	"github.com/kbqa/kbqa/pkg/natsutil"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		dir     string
		reset   bool
		watch   bool
		publish bool
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load, chunk, embed and store every .txt file under the data directory",
		Long: `Reads every *.txt file below --dir, splits it into overlapping chunks,
embeds the chunks and upserts them into the configured collection.

With --publish the documents are queued on NATS for "kbqactl worker"
instead of being ingested here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if dir == "" {
				dir = a.cfg.DataDir
			}
			if !cmd.Flags().Changed("reset") {
				reset = a.cfg.ResetCollection
			}
			out := cmd.OutOrStdout()

			if publish {
				if a.cfg.NATSURL == "" {
					return fmt.Errorf("--publish needs NATS_URL")
				}
				docs, err := ingest.LoadTextDocuments(dir)
				if err != nil {
					return err
				}
				nc, err := natsutil.Connect(a.cfg.NATSURL, "kbqactl-ingest", a.log)
				if err != nil {
					return fmt.Errorf("nats connect: %w", err)
				}
				defer nc.Close()
				if err := ingest.PublishDocuments(ctx, nc, docs); err != nil {
					return fmt.Errorf("publish: %w", err)
				}
				printf(out, "Published %d documents to %s\n", len(docs), ingest.IngestSubject)
				return nil
			}

			in, coll, err := a.ingester(ctx)
			if err != nil {
				return err
			}
			defer coll.Close()

			rep, err := in.IngestDir(ctx, dir, reset)
			if err != nil {
				return err
			}
			printf(out, "Loaded %d documents\n", rep.Documents)
			printf(out, "Created %d chunks\n", rep.Chunks)
			printf(out, "Stored %d chunks in collection %q\n", rep.Stored, coll.Name())
			printf(out, "Embedding model: %s | dim=%d\n", rep.Model, rep.Dim)

			if watch {
				return in.Watch(ctx, dir)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to ingest (default DATA_DIR)")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop the collection before ingesting (default RESET_COLLECTION)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-ingest files as they change")
	cmd.Flags().BoolVar(&publish, "publish", false, "queue documents on NATS instead of ingesting in-process")
	cmd.MarkFlagsMutuallyExclusive("watch", "publish")
	return cmd
}
