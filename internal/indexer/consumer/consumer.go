// Package consumer applies DocumentEvents from Kafka to the index, reports
// the outcome to the document table and drops cached query pages.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/kafka"
)

type DocumentIndexer interface {
	Index(ctx context.Context, docID, content string) (int, error)
	Reindex(ctx context.Context, docID, content string) (int, error)
	Remove(ctx context.Context, docID string) (int, error)
}

type StatusRecorder interface {
	SetStatus(ctx context.Context, docID, status string) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler applying each event through ix.
// status and cache may be nil. Malformed events are logged and dropped; a
// failed index mutation marks the document FAILED and returns the error so
// the consumer can retry it.
func HandleMessage(ix DocumentIndexer, status StatusRecorder, cache CacheInvalidator) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.DocumentEvent](value)
		if err != nil {
			logger.Error("failed to decode document event", "error", err, "key", string(key))
			return nil
		}
		if err := validator.ValidateEvent(&event); err != nil {
			logger.Error("dropping invalid document event", "error", err, "key", string(key))
			return nil
		}
		logger.Debug("processing document event", "doc_id", event.DocumentID, "op", event.Op)

		terms, done, err := apply(ctx, ix, &event)
		if err != nil {
			setStatus(ctx, status, event.DocumentID, ingestion.StatusFailed, logger)
			return fmt.Errorf("applying %s of document %s: %w", event.Op, event.DocumentID, err)
		}
		setStatus(ctx, status, event.DocumentID, done, logger)
		if cache != nil {
			if _, err := cache.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation failed", "doc_id", event.DocumentID, "error", err)
			}
		}
		logger.Info("document event applied",
			"doc_id", event.DocumentID,
			"op", event.Op,
			"terms", terms,
			"lag_ms", timeSinceMillis(event),
		)
		return nil
	}
}

func apply(ctx context.Context, ix DocumentIndexer, event *ingestion.DocumentEvent) (int, string, error) {
	switch event.Op {
	case ingestion.OpIndex:
		n, err := ix.Index(ctx, event.DocumentID, event.Content)
		return n, ingestion.StatusIndexed, err
	case ingestion.OpReindex:
		n, err := ix.Reindex(ctx, event.DocumentID, event.Content)
		return n, ingestion.StatusIndexed, err
	default:
		n, err := ix.Remove(ctx, event.DocumentID)
		return n, ingestion.StatusRemoved, err
	}
}

func setStatus(ctx context.Context, status StatusRecorder, docID, value string, logger *slog.Logger) {
	if status == nil {
		return
	}
	if err := status.SetStatus(ctx, docID, value); err != nil {
		logger.Error("failed to update document status", "doc_id", docID, "status", value, "error", err)
	}
}

func timeSinceMillis(event ingestion.DocumentEvent) int64 {
	if event.EmittedAt.IsZero() {
		return 0
	}
	return time.Since(event.EmittedAt).Milliseconds()
}
