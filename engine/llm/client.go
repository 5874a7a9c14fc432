// Package llm holds the HTTP gateways to an OpenAI-compatible API: one for
// text embeddings and one for chat completions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kbqa/kbqa/engine/domain"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 64 << 20

// Options configures a gateway client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

type client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func newClient(opts Options) client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		http:    hc,
	}
}

func (c client) checkConfig(op string) error {
	if c.apiKey == "" {
		return domain.Configurationf(op, "OPENAI_API_KEY is not set")
	}
	if c.baseURL == "" {
		return domain.Configurationf(op, "OPENAI_BASE_URL is not set")
	}
	if c.model == "" {
		return domain.Configurationf(op, "model is not set")
	}
	return nil
}

// postJSON sends in to baseURL+path and decodes a 2xx response into out.
// Every failure past configuration is reported as ErrUpstream.
func (c client) postJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return domain.Configurationf(op, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Upstream(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.Upstream(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Upstreamf(op, "status %d: %s", resp.StatusCode, snippet(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Upstream(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
