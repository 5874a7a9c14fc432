package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbqa/kbqa/engine/ingest"
	"github.com/kbqa/kbqa/pkg/natsutil"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued documents from NATS and ingest them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.NATSURL == "" {
				return fmt.Errorf("worker needs NATS_URL")
			}
			in, coll, err := a.ingester(ctx)
			if err != nil {
				return err
			}
			defer coll.Close()

			nc, err := natsutil.Connect(a.cfg.NATSURL, "kbqactl-worker", a.log)
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()

			sub, err := ingest.StartConsumer(nc, in)
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			a.log.Info("worker started", "subject", ingest.IngestSubject, "dlq", ingest.DLQSubject)

			<-ctx.Done()
			a.log.Info("worker stopping")
			return sub.Drain()
		},
	}
}
