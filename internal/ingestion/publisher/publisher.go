// Package publisher records document writes in PostgreSQL and emits the
// matching DocumentEvent to Kafka for the index consumer.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/kafka"
)

// DocumentStore is the system of record. It is optional.
type DocumentStore interface {
	Upsert(ctx context.Context, docID, content string) (bool, error)
	MarkRemoving(ctx context.Context, docID string) error
	Status(ctx context.Context, docID string) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	docs     DocumentStore
	producer EventPublisher
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a Publisher. A nil docs publishes every write without
// persisting it.
func New(docs DocumentStore, producer EventPublisher) *Publisher {
	return &Publisher{
		docs:     docs,
		producer: producer,
		now:      time.Now,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Put persists content and publishes a reindex event, unless the stored
// document is already indexed with the same content.
func (p *Publisher) Put(ctx context.Context, docID, content string) (*ingestion.DocumentResponse, error) {
	if p.docs != nil {
		changed, err := p.docs.Upsert(ctx, docID, content)
		if err != nil {
			return nil, fmt.Errorf("persisting document: %w", err)
		}
		if !changed {
			p.logger.Debug("content unchanged, skipping publish", "doc_id", docID)
			return &ingestion.DocumentResponse{DocumentID: docID, Status: ingestion.StatusIndexed}, nil
		}
	}
	published := p.publish(ctx, ingestion.DocumentEvent{
		Op:         ingestion.OpReindex,
		DocumentID: docID,
		Content:    content,
	})
	return &ingestion.DocumentResponse{DocumentID: docID, Status: ingestion.StatusPending, Published: published}, nil
}

// Delete marks the document for removal and publishes a remove event.
func (p *Publisher) Delete(ctx context.Context, docID string) (*ingestion.DocumentResponse, error) {
	if p.docs != nil {
		if err := p.docs.MarkRemoving(ctx, docID); err != nil {
			return nil, fmt.Errorf("marking document for removal: %w", err)
		}
	}
	published := p.publish(ctx, ingestion.DocumentEvent{
		Op:         ingestion.OpRemove,
		DocumentID: docID,
	})
	return &ingestion.DocumentResponse{DocumentID: docID, Status: ingestion.StatusRemoving, Published: published}, nil
}

// Status reports where docID is in its lifecycle. Without a document store
// nothing is tracked and every document is reported as not found.
func (p *Publisher) Status(ctx context.Context, docID string) (*ingestion.DocumentResponse, error) {
	if p.docs == nil {
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %s is not tracked", docID)
	}
	status, err := p.docs.Status(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("reading document status: %w", err)
	}
	return &ingestion.DocumentResponse{DocumentID: docID, Status: status}, nil
}

// publish reports whether the event reached Kafka. A failure leaves the row
// in its pending state for the next backfill to pick up.
func (p *Publisher) publish(ctx context.Context, event ingestion.DocumentEvent) bool {
	event.EmittedAt = p.now().UTC()
	err := p.producer.Publish(ctx, kafka.Event{Key: event.DocumentID, Value: event})
	if err != nil {
		p.logger.Error("failed to publish to kafka, document left for backfill",
			"doc_id", event.DocumentID,
			"op", event.Op,
			"error", err,
		)
		return false
	}
	return true
}
