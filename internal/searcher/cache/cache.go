package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/redis"
	"golang.org/x/sync/singleflight"
)

// QueryCache keeps serialized result pages in Redis under the index prefix.
// Pages are keyed by the query's term set, so queries that differ only in
// word order, case, repeats or stop words share an entry. Any index mutation
// should be followed by Invalidate.
type QueryCache struct {
	client  *pkgredis.Client
	keys    store.Keyspace
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	// generation counts invalidations; a page computed across one is stale.
	generation atomic.Uint64
}

func New(client *pkgredis.Client, keys store.Keyspace, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		keys:    keys,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, plan *parser.QueryPlan, offset, count int) (*executor.SearchResult, bool) {
	key := c.buildKey(plan, offset, count)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	result.Query = plan.RawQuery
	c.logger.Debug("cache hit", "query", plan.RawQuery, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, plan *parser.QueryPlan, offset, count int, result *executor.SearchResult) {
	key := c.buildKey(plan, offset, count)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page or computes it once for all
// concurrent callers asking for the same page. The bool reports a cache hit.
// The shared computation does not inherit the first caller's cancellation;
// each caller stops waiting when its own context ends.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.QueryPlan,
	offset, count int,
	computeFn func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, plan, offset, count); ok {
		return result, true, nil
	}
	key := c.buildKey(plan, offset, count)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		sharedCtx := context.WithoutCancel(ctx)
		gen := c.generation.Load()
		result, err := computeFn(sharedCtx)
		if err != nil {
			return nil, err
		}
		c.store(sharedCtx, key, gen, plan, offset, count, result)
		return result, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	shared := *res.Val.(*executor.SearchResult)
	shared.Query = plan.RawQuery
	return &shared, false, nil
}

// store writes a page computed under generation gen. If an Invalidate ran
// since then the page is skipped, or removed again when the invalidation
// landed between the check and the write.
func (c *QueryCache) store(ctx context.Context, key string, gen uint64, plan *parser.QueryPlan, offset, count int, result *executor.SearchResult) {
	if c.generation.Load() != gen {
		c.logger.Debug("skipping stale cache write", "key", key)
		return
	}
	c.Set(ctx, plan, offset, count, result)
	if c.generation.Load() != gen {
		if err := c.client.Del(ctx, key); err != nil {
			c.logger.Error("cache stale delete failed", "key", key, "error", err)
		}
	}
}

// Invalidate drops every cached page and returns how many were removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	c.generation.Add(1)
	deleted, err := c.client.FlushByPattern(ctx, c.keys.CachePattern())
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

func (c *QueryCache) buildKey(plan *parser.QueryPlan, offset, count int) string {
	raw := fmt.Sprintf("%s|offset=%d|count=%d", normalizeTerms(plan.Terms), offset, count)
	hash := sha256.Sum256([]byte(raw))
	return c.keys.Cache(fmt.Sprintf("%x", hash[:16]))
}

// normalizeTerms orders the term set; scores are sums over terms, so the
// order a query names them in does not change the result.
func normalizeTerms(terms []string) string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
