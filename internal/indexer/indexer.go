// Package indexer turns documents into weighted postings held by a
// store.Store. Each document contributes, per distinct term, its term
// frequency (occurrences / total terms) to that term's posting set, joins the
// membership set, and records the terms it was indexed under in its
// back-reference set so that Remove never needs the original content.
//
// Index and Remove each issue one batch. Batches are not isolated from
// concurrent queries, and concurrent mutations of the same document are not
// serialized; callers that need either must arrange it themselves.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/resilience"
)

// Tokenizer turns text into its ordered sequence of normalized terms.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
}

type Indexer struct {
	store     store.Store
	keys      store.Keyspace
	tokenizer Tokenizer
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(st store.Store, keys store.Keyspace, tok Tokenizer, cfg config.IndexConfig, m *metrics.Metrics) *Indexer {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Indexer{
		store:     st,
		keys:      keys,
		tokenizer: tok,
		retry: resilience.RetryConfig{
			MaxAttempts:  attempts,
			InitialDelay: cfg.RetryInitialDelay,
			Retryable: func(err error) bool {
				return errors.Is(err, apperrors.ErrStoreUnavailable) &&
					!errors.Is(err, context.Canceled) &&
					!errors.Is(err, context.DeadlineExceeded)
			},
		},
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
}

// Index writes docID's postings for content and returns the number of
// distinct terms. Terms the document was previously indexed under but no
// longer contains keep their postings; use Reindex to update a document.
// Content without terms writes nothing.
func (ix *Indexer) Index(ctx context.Context, docID, content string) (int, error) {
	if docID == "" {
		return 0, apperrors.New(apperrors.ErrInvalidInput, 400, "document id is required")
	}
	terms, err := ix.tokenizer.Tokenize(content)
	if err != nil {
		return 0, fmt.Errorf("tokenizing document %s: %w", docID, err)
	}
	tf := TermFrequencies(terms)
	if len(tf) == 0 {
		ix.logger.Debug("document has no indexable terms", "doc_id", docID)
		return 0, nil
	}

	b := newBatch(ix.keys, docID)
	b.join()
	b.dropBackRefs()
	for _, term := range sortedTerms(tf) {
		b.addPosting(term, tf[term])
	}
	if err := ix.apply(ctx, "index", b.ops); err != nil {
		return 0, fmt.Errorf("indexing document %s: %w", docID, err)
	}
	ix.metrics.DocIndexed()
	ix.logger.Debug("document indexed", "doc_id", docID, "terms", len(tf), "tokens", len(terms))
	return len(tf), nil
}

// Remove deletes every posting, the membership entry and the back-reference
// set of docID, returning the number of terms it was indexed under.
func (ix *Indexer) Remove(ctx context.Context, docID string) (int, error) {
	if docID == "" {
		return 0, apperrors.New(apperrors.ErrInvalidInput, 400, "document id is required")
	}
	terms, err := ix.store.SetMembers(ctx, ix.keys.DocTerms(docID))
	if err != nil {
		return 0, fmt.Errorf("reading terms of document %s: %w", docID, err)
	}

	b := newBatch(ix.keys, docID)
	for _, term := range terms {
		b.removePosting(term)
	}
	b.leave()
	b.dropBackRefs()
	if err := ix.apply(ctx, "remove", b.ops); err != nil {
		return 0, fmt.Errorf("removing document %s: %w", docID, err)
	}
	if len(terms) > 0 {
		ix.metrics.DocRemoved()
	}
	ix.logger.Debug("document removed", "doc_id", docID, "terms", len(terms))
	return len(terms), nil
}

// Reindex replaces whatever docID was indexed under with content. It is the
// supported way to update a document.
func (ix *Indexer) Reindex(ctx context.Context, docID, content string) (int, error) {
	if _, err := ix.Remove(ctx, docID); err != nil {
		return 0, err
	}
	return ix.Index(ctx, docID, content)
}

func (ix *Indexer) apply(ctx context.Context, op string, ops []store.Op) error {
	err := resilience.Retry(ctx, "index-"+op, ix.retry, func() error {
		return ix.store.Batch(ctx, ops...)
	})
	if err != nil {
		ix.metrics.BatchFailed(op)
		ix.logger.Error("index batch failed", "op", op, "ops", len(ops), "error", err)
	}
	return err
}

// TermFrequencies maps each distinct term to its share of all terms.
func TermFrequencies(terms []string) map[string]float64 {
	if len(terms) == 0 {
		return map[string]float64{}
	}
	counts := make(map[string]int, len(terms))
	for _, term := range terms {
		counts[term]++
	}
	total := float64(len(terms))
	tf := make(map[string]float64, len(counts))
	for term, n := range counts {
		tf[term] = float64(n) / total
	}
	return tf
}

func sortedTerms(tf map[string]float64) []string {
	terms := make([]string, 0, len(tf))
	for term := range tf {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
