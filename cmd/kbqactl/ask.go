package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(a *app) *cobra.Command {
	var (
		topK   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, coll, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer coll.Close()

			res, err := svc.Answer(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printf(out, "%s\n\n", res.Answer)
			printf(out, "Sources:\n")
			for i, c := range res.Contexts {
				printf(out, "  [%d] %s (distance %.4f)\n", i+1, c.Source(), c.Distance)
			}
			printf(out, "\nretrieve_ms=%.2f llm_ms=%.2f total_ms=%.2f\n",
				res.Metrics.RetrieveMS, res.Metrics.LLMMS, res.Metrics.TotalMS)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 4, "number of chunks to retrieve")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
