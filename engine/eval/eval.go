// Package eval runs keyword-expectation checks against a running API and
// reports pass rate and latency.
package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kbqa/kbqa/engine/domain"
)

// DefaultTimeout bounds each evaluation request.
const DefaultTimeout = 60 * time.Second

// DefaultURL is the ask endpoint of a locally running server.
const DefaultURL = "http://127.0.0.1:8000/api/v1/ask"

// previewLen is the number of answer runes kept in a CaseResult.
const previewLen = 120

// Case is one question with the keywords a good answer contains. Matching is
// case-insensitive and any one keyword suffices.
type Case struct {
	Question  string   `json:"question" yaml:"question"`
	ExpectAny []string `json:"expect_any" yaml:"expect_any"`
}

// DefaultCases covers an answerable question, a structural one, and one the
// knowledge base cannot answer.
var DefaultCases = []Case{
	{
		Question:  "What does the internal knowledge base contain?",
		ExpectAny: []string{"deployment", "CI/CD", "troubleshooting", "microservices"},
	},
	{
		Question:  "List the main components of a RAG system.",
		ExpectAny: []string{"ingestion", "chunking", "embedding", "vector", "retrieval", "synthesis"},
	},
	{
		Question:  "What is the company vacation policy?",
		ExpectAny: []string{"I don't know", "don’t know", "cannot find", "not in the context"},
	},
}

// LoadCases reads a YAML list of cases. An empty path returns DefaultCases.
func LoadCases(path string) ([]Case, error) {
	if path == "" {
		return DefaultCases, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read cases: %w", err)
	}
	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("eval: parse %s: %w", path, err)
	}
	for i, c := range cases {
		if strings.TrimSpace(c.Question) == "" || len(c.ExpectAny) == 0 {
			return nil, domain.InvalidParameterf("eval.cases", "case %d needs a question and at least one keyword", i)
		}
	}
	return cases, nil
}

// CaseResult is the outcome of one Case.
type CaseResult struct {
	Question      string         `json:"question"`
	OK            bool           `json:"ok"`
	DurationMS    int64          `json:"duration_ms"`
	Metrics       domain.Metrics `json:"metrics"`
	TopSource     string         `json:"top_source,omitempty"`
	AnswerPreview string         `json:"answer_preview"`
}

// Report aggregates every CaseResult of a run.
type Report struct {
	Passed       int          `json:"passed"`
	Total        int          `json:"total"`
	AvgLatencyMS int64        `json:"avg_latency_ms"`
	Results      []CaseResult `json:"results"`
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type askResponse struct {
	Answer  string         `json:"answer"`
	Metrics domain.Metrics `json:"metrics"`
	Sources []struct {
		Source string `json:"source"`
	} `json:"sources"`
}

// Runner posts cases to an ask endpoint.
type Runner struct {
	URL  string
	TopK int
	HTTP *http.Client
}

// NewRunner returns a Runner for url with top_k 2 and a 60s client.
func NewRunner(url string) *Runner {
	if url == "" {
		url = DefaultURL
	}
	return &Runner{URL: url, TopK: 2, HTTP: &http.Client{Timeout: DefaultTimeout}}
}

// Run evaluates cases in order. A transport error or non-2xx response aborts
// the run.
func (r *Runner) Run(ctx context.Context, cases []Case) (Report, error) {
	rep := Report{Total: len(cases)}
	var totalMS int64
	for _, c := range cases {
		res, err := r.runCase(ctx, c)
		if err != nil {
			return Report{}, err
		}
		if res.OK {
			rep.Passed++
		}
		totalMS += res.DurationMS
		rep.Results = append(rep.Results, res)
	}
	if rep.Total > 0 {
		rep.AvgLatencyMS = totalMS / int64(rep.Total)
	}
	return rep, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) (CaseResult, error) {
	body, err := json.Marshal(askRequest{Question: c.Question, TopK: r.TopK})
	if err != nil {
		return CaseResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return CaseResult{}, fmt.Errorf("eval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return CaseResult{}, fmt.Errorf("eval: %q: %w", c.Question, err)
	}
	defer resp.Body.Close()
	duration := time.Since(start).Milliseconds()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CaseResult{}, fmt.Errorf("eval: %q: status %d: %s", c.Question, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out askResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CaseResult{}, fmt.Errorf("eval: %q: decode: %w", c.Question, err)
	}

	res := CaseResult{
		Question:      c.Question,
		OK:            ContainsAny(out.Answer, c.ExpectAny),
		DurationMS:    duration,
		Metrics:       out.Metrics,
		AnswerPreview: preview(out.Answer),
	}
	if len(out.Sources) > 0 {
		res.TopSource = out.Sources[0].Source
	}
	return res, nil
}

// ContainsAny reports whether text contains any keyword, ignoring case.
func ContainsAny(text string, keywords []string) bool {
	t := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(t, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen])
}

// Write prints the report in plain text.
func (rep Report) Write(w io.Writer) error {
	var b strings.Builder
	b.WriteString("\n=== RAG EVAL REPORT ===\n")
	fmt.Fprintf(&b, "Passed: %d/%d\n", rep.Passed, rep.Total)
	fmt.Fprintf(&b, "Avg latency (ms): %d\n", rep.AvgLatencyMS)
	b.WriteString("\nDetails:\n")
	for _, r := range rep.Results {
		b.WriteString("\n---\n")
		fmt.Fprintf(&b, "Q: %s\n", r.Question)
		fmt.Fprintf(&b, "OK: %t\n", r.OK)
		fmt.Fprintf(&b, "Latency(ms): %d\n", r.DurationMS)
		fmt.Fprintf(&b, "Stage metrics: retrieve_ms=%.2f llm_ms=%.2f total_ms=%.2f\n",
			r.Metrics.RetrieveMS, r.Metrics.LLMMS, r.Metrics.TotalMS)
		fmt.Fprintf(&b, "Top source: %s\n", r.TopSource)
		fmt.Fprintf(&b, "Answer: %s ...\n", r.AnswerPreview)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
