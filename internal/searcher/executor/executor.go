// Package executor answers ranked queries against the index held in a
// store.Store.
//
// A query is executed entirely by the store: the per-term IDF weights are
// computed locally from two cardinality reads, the weighted posting sets are
// summed into a fresh scratch key, and the requested page is read back in
// descending score order. The scratch key is private to the query, carries a
// TTL, and is deleted before Search returns, whatever the outcome.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/tracing"
)

const cleanupTimeout = 2 * time.Second

type SearchResult struct {
	Query     string             `json:"query"`
	Offset    int                `json:"offset"`
	Count     int                `json:"count"`
	TotalHits int64              `json:"total_hits"`
	Results   []ranker.ScoredDoc `json:"results"`
	TermStats map[string]int64   `json:"term_stats,omitempty"`
}

type Executor struct {
	store      store.Store
	keys       store.Keyspace
	tokenizer  indexer.Tokenizer
	maxResults int
	timeout    time.Duration
	scratchTTL time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(st store.Store, keys store.Keyspace, tok indexer.Tokenizer, cfg config.SearchConfig, m *metrics.Metrics) *Executor {
	return &Executor{
		store:      st,
		keys:       keys,
		tokenizer:  tok,
		maxResults: cfg.MaxResults,
		timeout:    cfg.Timeout,
		scratchTTL: cfg.ScratchTTL,
		metrics:    m,
		logger:     slog.Default().With("component", "query-executor"),
	}
}

// Search tokenizes query and returns the page [offset, offset+count) of the
// matching documents ranked by descending TF-IDF score, with the total
// number of matches. Documents scoring equally are ordered by descending id.
func (e *Executor) Search(ctx context.Context, query string, offset, count int) (*SearchResult, error) {
	plan, err := e.Plan(query)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan, offset, count)
}

// Plan parses query with the tokenizer the index was built with.
func (e *Executor) Plan(query string) (*parser.QueryPlan, error) {
	plan, err := parser.Parse(e.tokenizer, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	return plan, nil
}

// Execute runs an already parsed plan. count is capped at the configured
// maximum page size.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, offset, count int) (*SearchResult, error) {
	if offset < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "offset must not be negative, got %d", offset)
	}
	if count < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "count must be positive, got %d", count)
	}
	if e.maxResults > 0 && count > e.maxResults {
		count = e.maxResults
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "search", logger.RequestID(ctx))
	defer func() {
		span.End()
		span.Log(ctx, e.logger, slog.LevelDebug)
	}()
	span.SetAttr("terms", len(plan.Terms))

	result, err := resilience.WithTimeoutValue(ctx, e.timeout, "search", func(ctx context.Context) (*SearchResult, error) {
		return e.execute(ctx, plan, offset, count)
	})
	if err != nil {
		e.metrics.ObserveSearch("error", time.Since(start), 0)
		e.logger.Error("query failed", "query", plan.RawQuery, "error", err)
		return nil, err
	}

	resultType := "hit"
	if len(result.Results) == 0 {
		resultType = "zero_result"
	}
	e.metrics.ObserveSearch(resultType, time.Since(start), len(result.Results))
	e.logger.Info("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"total_hits", result.TotalHits,
		"results", len(result.Results),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (e *Executor) execute(ctx context.Context, plan *parser.QueryPlan, offset, count int) (*SearchResult, error) {
	result := &SearchResult{
		Query:   plan.RawQuery,
		Offset:  offset,
		Count:   count,
		Results: []ranker.ScoredDoc{},
	}
	if len(plan.Terms) == 0 {
		return result, nil
	}

	weights, stats, err := e.weigh(ctx, plan.Terms)
	if err != nil {
		return nil, err
	}
	result.TermStats = stats
	if len(weights) == 0 {
		return result, nil
	}

	page, hits, err := e.rank(ctx, weights, offset, count)
	if err != nil {
		return nil, err
	}
	result.TotalHits = hits
	for _, m := range page {
		result.Results = append(result.Results, ranker.ScoredDoc{DocID: m.Member, Score: m.Score})
	}
	return result, nil
}

// weigh reads the corpus size and per-term document frequencies and returns
// the IDF weight of every posting key that can contribute to a score.
func (e *Executor) weigh(ctx context.Context, terms []string) (map[string]float64, map[string]int64, error) {
	ctx, span := tracing.StartChildSpan(ctx, "weigh")
	defer span.End()

	total, err := e.store.SetCardinality(ctx, e.keys.Membership())
	if err != nil {
		return nil, nil, fmt.Errorf("counting indexed documents: %w", err)
	}
	postingKeys := make([]string, len(terms))
	for i, term := range terms {
		postingKeys[i] = e.keys.Postings(term)
	}
	docFreqs, err := e.store.WeightedCardinalities(ctx, postingKeys...)
	if err != nil {
		return nil, nil, fmt.Errorf("reading document frequencies: %w", err)
	}

	stats := make(map[string]int64, len(terms))
	for i, term := range terms {
		if docFreqs[i] > 0 {
			stats[term] = docFreqs[i]
		}
	}
	weights := ranker.Weights(max(total, 1), terms, docFreqs, e.keys.Postings)
	span.SetAttr("total_docs", total)
	span.SetAttr("weighted_terms", len(weights))
	return weights, stats, nil
}

// rank sums the weighted postings into a scratch key and reads one page back.
func (e *Executor) rank(ctx context.Context, weights map[string]float64, offset, count int) ([]store.ScoredMember, int64, error) {
	scratch := e.keys.Scratch()
	defer e.release(ctx, scratch)

	unionCtx, span := tracing.StartChildSpan(ctx, "union")
	hits, err := e.store.UnionWeighted(unionCtx, scratch, weights, e.scratchTTL)
	span.End()
	if err != nil {
		return nil, 0, fmt.Errorf("summing weighted postings: %w", err)
	}
	if hits == 0 {
		return nil, 0, nil
	}

	rangeCtx, span := tracing.StartChildSpan(ctx, "range")
	page, err := e.store.RangeDescending(rangeCtx, scratch, int64(offset), int64(count))
	span.End()
	if err != nil {
		return nil, 0, fmt.Errorf("reading ranked page: %w", err)
	}
	return page, hits, nil
}

// release deletes a scratch key even when the query's own context has
// already been cancelled. The TTL covers the case where this fails too.
func (e *Executor) release(ctx context.Context, scratch string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := e.store.DeleteKey(ctx, scratch); err != nil {
		e.metrics.ScratchCleanupFailed()
		e.logger.Warn("scratch key cleanup failed", "key", scratch, "error", err)
	}
}
