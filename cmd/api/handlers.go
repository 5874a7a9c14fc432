package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kbqa/kbqa/engine/domain"
	"github.com/kbqa/kbqa/pkg/metrics"
	"github.com/kbqa/kbqa/pkg/mid"
)

// maxBodyBytes caps the ask request body.
const maxBodyBytes = 1 << 20

type answerer interface {
	Answer(ctx context.Context, question string, k int) (*domain.Result, error)
	TopK() int
}

type handlers struct {
	svc    answerer
	ask    *metrics.Ask
	logger *slog.Logger
}

// AskRequest is the JSON body for POST /api/v1/ask. A missing top_k uses
// the service default.
type AskRequest struct {
	Question string `json:"question"`
	TopK     *int   `json:"top_k,omitempty"`
}

// Source is one retrieved chunk in an AskResponse.
type Source struct {
	Source   string  `json:"source"`
	Distance float64 `json:"distance"`
}

// AskResponse is the JSON response for POST /api/v1/ask.
type AskResponse struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Metrics  domain.Metrics `json:"metrics"`
	Sources  []Source       `json:"sources"`
}

type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, domain.InvalidParameterf("api.ask", "invalid request body: %v", err))
		return
	}
	k := h.svc.TopK()
	if req.TopK != nil {
		k = *req.TopK
	}

	res, err := h.svc.Answer(r.Context(), req.Question, k)
	if err != nil {
		h.ask.Failed.Inc()
		h.writeError(w, r, err)
		return
	}
	h.ask.Answered.Inc()
	h.ask.Retrieve.ObserveMillis(res.Metrics.RetrieveMS)
	h.ask.LLM.ObserveMillis(res.Metrics.LLMMS)
	h.ask.Total.ObserveMillis(res.Metrics.TotalMS)

	sources := make([]Source, len(res.Contexts))
	for i, c := range res.Contexts {
		sources[i] = Source{Source: c.Source(), Distance: c.Distance}
	}
	writeJSON(w, http.StatusOK, AskResponse{
		Question: res.Question,
		Answer:   res.Answer,
		Metrics:  res.Metrics,
		Sources:  sources,
	})
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	traceID := mid.TraceID(r.Context())
	h.logger.Error("ask failed", "err", err, "status", status, "trace_id", traceID)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, TraceID: traceID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
