package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/logger"
)

type Searcher interface {
	Plan(query string) (*parser.QueryPlan, error)
	Execute(ctx context.Context, plan *parser.QueryPlan, offset, count int) (*executor.SearchResult, error)
}

type DocumentIndexer interface {
	Index(ctx context.Context, docID, content string) (int, error)
	Reindex(ctx context.Context, docID, content string) (int, error)
	Remove(ctx context.Context, docID string) (int, error)
}

type Options struct {
	DefaultLimit int
	MaxResults   int
	// MaxBodyBytes bounds document request bodies; zero means 1 MiB plus
	// room for the JSON envelope.
	MaxBodyBytes int64
}

type Handler struct {
	searcher Searcher
	indexer  DocumentIndexer
	cache    *cache.QueryCache
	opts     Options
	logger   *slog.Logger
}

// New builds the handler. queryCache may be nil to disable caching.
func New(s Searcher, ix DocumentIndexer, queryCache *cache.QueryCache, opts Options) *Handler {
	if opts.DefaultLimit < 1 {
		opts.DefaultLimit = 10
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1<<20 + 4096
	}
	return &Handler{
		searcher: s,
		indexer:  ix,
		cache:    queryCache,
		opts:     opts,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search, document and cache routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/documents/{id}", h.IndexDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.ReindexDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.RemoveDocument)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(r, "limit", h.opts.DefaultLimit)
	if err != nil || limit < 1 {
		h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, h.opts.MaxResults)

	plan, err := h.searcher.Plan(query)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	var result *executor.SearchResult
	cacheHit := false
	if h.cache != nil && len(plan.Terms) > 0 {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, plan, offset, limit, func(ctx context.Context) (*executor.SearchResult, error) {
			return h.searcher.Execute(ctx, plan, offset, limit)
		})
	} else {
		result, err = h.searcher.Execute(ctx, plan, offset, limit)
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.writeAppError(w, err)
		return
	}

	log.Debug("search served", "query", query, "cache_hit", cacheHit, "returned", len(result.Results))
	w.Header().Set("X-Cache", cacheLabel(cacheHit))
	h.writeJSON(w, http.StatusOK, result)
}

type documentRequest struct {
	Content string `json:"content"`
}

type documentResponse struct {
	DocID string `json:"doc_id"`
	Terms int    `json:"terms"`
}

func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "index", http.StatusCreated, h.indexer.Index)
}

func (h *Handler) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "reindex", http.StatusOK, h.indexer.Reindex)
}

func (h *Handler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	n, err := h.indexer.Remove(r.Context(), docID)
	if err != nil {
		logger.FromContext(r.Context()).Error("remove failed", "doc_id", docID, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.invalidate(r.Context())
	h.writeJSON(w, http.StatusOK, documentResponse{DocID: docID, Terms: n})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op string, status int, fn func(context.Context, string, string) (int, error)) {
	docID := r.PathValue("id")
	var req documentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	n, err := fn(r.Context(), docID, req.Content)
	if err != nil {
		logger.FromContext(r.Context()).Error(op+" failed", "doc_id", docID, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.invalidate(r.Context())
	h.writeJSON(w, status, documentResponse{DocID: docID, Terms: n})
}

// invalidate drops cached pages after a mutation. Failures only cost
// staleness until the entries expire, so they are logged and swallowed.
func (h *Handler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if _, err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("cache invalidation after mutation failed", "error", err)
	}
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError exposes client errors verbatim and hides server-side causes.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		message = "index store unavailable"
	case status == http.StatusGatewayTimeout:
		message = "search timed out"
	case status >= http.StatusInternalServerError:
		message = "internal error"
	}
	h.writeError(w, status, message)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func cacheLabel(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
