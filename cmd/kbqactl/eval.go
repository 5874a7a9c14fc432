package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbqa/kbqa/engine/eval"
)

func newEvalCmd(a *app) *cobra.Command {
	var (
		url       string
		casesPath string
		topK      int
		asJSON    bool
		minPass   int
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run keyword checks against a running API and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cases, err := eval.LoadCases(casesPath)
			if err != nil {
				return err
			}
			if url == "" {
				url = fmt.Sprintf("http://127.0.0.1:%s/api/v1/ask", a.cfg.Port)
			}
			runner := eval.NewRunner(url)
			runner.TopK = topK

			rep, err := runner.Run(cmd.Context(), cases)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else if err := rep.Write(out); err != nil {
				return err
			}
			if minPass > 0 && rep.Passed < minPass {
				return fmt.Errorf("eval: %d/%d passed, need %d", rep.Passed, rep.Total, minPass)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "ask endpoint (default http://127.0.0.1:$PORT/api/v1/ask)")
	cmd.Flags().StringVar(&casesPath, "cases", "", "YAML file of cases (default built-in cases)")
	cmd.Flags().IntVar(&topK, "top-k", 2, "top_k sent with each question")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().IntVar(&minPass, "min-pass", 0, "fail unless at least this many cases pass")
	return cmd
}
