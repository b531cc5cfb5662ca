// Package backfill rebuilds the index from the document table, for example
// after the store was flushed or events were lost while Kafka was down.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
)

// Source streams every live document.
type Source interface {
	ScanLive(ctx context.Context, fn func(docID, content string) error) error
}

type Reindexer interface {
	Reindex(ctx context.Context, docID, content string) (int, error)
}

type StatusRecorder interface {
	SetStatus(ctx context.Context, docID, status string) error
}

type Result struct {
	Documents int64
	Failed    int64
	Duration  time.Duration
}

type Runner struct {
	source      Source
	indexer     Reindexer
	status      StatusRecorder
	concurrency int
	logger      *slog.Logger
}

// New builds a Runner. status may be nil.
func New(src Source, ix Reindexer, status StatusRecorder, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		source:      src,
		indexer:     ix,
		status:      status,
		concurrency: concurrency,
		logger:      slog.Default().With("component", "backfill"),
	}
}

// Run reindexes every live document with bounded concurrency. A document
// that fails is marked FAILED and counted; only a failing scan aborts the
// run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var docs, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	scanErr := r.source.ScanLive(gctx, func(docID, content string) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		g.Go(func() error {
			docs.Add(1)
			if _, err := r.indexer.Reindex(gctx, docID, content); err != nil {
				failed.Add(1)
				r.logger.Error("backfill of document failed", "doc_id", docID, "error", err)
				r.setStatus(gctx, docID, ingestion.StatusFailed)
				return nil
			}
			r.setStatus(gctx, docID, ingestion.StatusIndexed)
			return nil
		})
		return nil
	})
	waitErr := g.Wait()

	res := Result{Documents: docs.Load(), Failed: failed.Load(), Duration: time.Since(start)}
	if scanErr != nil {
		return res, fmt.Errorf("backfill scan: %w", scanErr)
	}
	if waitErr != nil {
		return res, waitErr
	}
	r.logger.Info("backfill finished",
		"documents", res.Documents,
		"failed", res.Failed,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (r *Runner) setStatus(ctx context.Context, docID, status string) {
	if r.status == nil {
		return
	}
	if err := r.status.SetStatus(ctx, docID, status); err != nil {
		r.logger.Warn("failed to record backfill status", "doc_id", docID, "status", status, "error", err)
	}
}
