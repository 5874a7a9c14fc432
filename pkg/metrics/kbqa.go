package metrics

import "strconv"

// HTTP holds request-level series for the API server.
type HTTP struct {
	reg      *Registry
	InFlight *Gauge
}

// NewHTTP registers the HTTP series on r.
func NewHTTP(r *Registry) *HTTP {
	return &HTTP{
		reg:      r,
		InFlight: r.Gauge("kbqa_http_requests_in_flight", "Requests currently being served."),
	}
}

// Observe records one finished request.
func (h *HTTP) Observe(method, route string, status int, seconds float64) {
	code := strconv.Itoa(status)
	h.reg.Counter(WithLabels("kbqa_http_requests_total", "method", method, "route", route, "code", code),
		"HTTP requests by method, route and status.").Inc()
	h.reg.Histogram(WithLabels("kbqa_http_request_duration_seconds", "method", method, "route", route),
		"HTTP request latency.", nil).Observe(seconds)
}

// Ask holds per-stage series of the question-answering pipeline.
type Ask struct {
	Answered *Counter
	Failed   *Counter
	Retrieve *Histogram
	LLM      *Histogram
	Total    *Histogram
}

// NewAsk registers the pipeline series on r.
func NewAsk(r *Registry) *Ask {
	return &Ask{
		Answered: r.Counter("kbqa_answers_total", "Questions answered."),
		Failed:   r.Counter("kbqa_answer_failures_total", "Questions that failed at any stage."),
		Retrieve: r.Histogram(WithLabels("kbqa_stage_duration_seconds", "stage", "retrieve"), "Pipeline stage latency.", nil),
		LLM:      r.Histogram(WithLabels("kbqa_stage_duration_seconds", "stage", "llm"), "Pipeline stage latency.", nil),
		Total:    r.Histogram(WithLabels("kbqa_stage_duration_seconds", "stage", "total"), "Pipeline stage latency.", nil),
	}
}

// Ingest holds ingestion series.
type Ingest struct {
	Documents *Counter
	Chunks    *Counter
	Failures  *Counter
	Duration  *Histogram
}

// NewIngest registers the ingestion series on r.
func NewIngest(r *Registry) *Ingest {
	return &Ingest{
		Documents: r.Counter("kbqa_ingest_documents_total", "Documents ingested."),
		Chunks:    r.Counter("kbqa_ingest_chunks_total", "Chunks embedded and stored."),
		Failures:  r.Counter("kbqa_ingest_failures_total", "Failed ingestion runs."),
		Duration:  r.Histogram("kbqa_ingest_duration_seconds", "Ingestion run latency.", nil),
	}
}
