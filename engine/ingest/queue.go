package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kbqa/kbqa/engine/domain"
	"github.com/kbqa/kbqa/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for documents awaiting ingestion.
	IngestSubject = "kbqa.ingest"
	// DLQSubject receives documents that failed MaxRetries times.
	DLQSubject = "kbqa.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3

	flushTimeout = 5 * time.Second
)

// DeadLetter is published to DLQSubject on repeated failure.
type DeadLetter struct {
	Document domain.Document `json:"document"`
	Error    string          `json:"error"`
	Retries  int             `json:"retries"`
}

// PublishDocuments queues docs on IngestSubject.
func PublishDocuments(ctx context.Context, nc *nats.Conn, docs []domain.Document) error {
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := natsutil.Publish(ctx, nc, IngestSubject, doc); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	return nc.FlushWithContext(ctx)
}

// StartConsumer subscribes to IngestSubject and ingests each document.
// Failed documents are re-queued with an incremented retry header, and sent
// to DLQSubject once MaxRetries is reached. Invalid documents go straight to
// the DLQ since retrying cannot fix them.
func StartConsumer(nc *nats.Conn, in *Ingester) (*nats.Subscription, error) {
	log := in.log
	return natsutil.Subscribe(nc, IngestSubject, func(ctx context.Context, doc domain.Document, msg *nats.Msg) {
		rep, err := in.Ingest(ctx, []domain.Document{doc})
		if err == nil {
			log.Info("ingest: success", "doc_id", doc.DocID, "chunks", rep.Stored)
			return
		}

		retries := natsutil.Retries(msg) + 1
		log.Error("ingest: pipeline failed", "error", err, "doc_id", doc.DocID, "retry", retries)

		if retries >= MaxRetries || errors.Is(err, domain.ErrInvalidParameter) {
			deadLetter(nc, log, DeadLetter{Document: doc, Error: err.Error(), Retries: retries})
			return
		}
		if err := natsutil.Republish(nc, msg, IngestSubject, retries); err != nil {
			log.Error("ingest: retry publish failed", "error", err)
		}
	}, func(err error) {
		log.Error("ingest: unmarshal failed", "error", err)
	})
}

func deadLetter(nc *nats.Conn, log *slog.Logger, dl DeadLetter) {
	data, err := json.Marshal(dl)
	if err != nil {
		log.Error("ingest: DLQ marshal failed", "error", err)
		return
	}
	if err := nc.Publish(DLQSubject, data); err != nil {
		log.Error("ingest: DLQ publish failed", "error", err)
	}
}
