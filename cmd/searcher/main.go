// Command searcher serves ranked TF-IDF queries over the index and accepts
// direct document writes. With store.backend set to memory it runs without
// any external dependency.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/kvsearch.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "store", cfg.Store.Backend, "prefix", cfg.Store.Prefix)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, prometheus.DefaultGatherer); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	var redisClient *pkgredis.Client
	var rdb redis.Cmdable
	if cfg.Store.Backend == store.BackendRedis || cfg.Search.CacheEnabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		switch {
		case err == nil:
			defer redisClient.Close()
			rdb = redisClient.Cmdable()
		case cfg.Store.Backend == store.BackendRedis:
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		default:
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		}
	}

	st, err := store.Open(cfg.Store, rdb, m)
	if err != nil {
		slog.Error("failed to open index store", "error", err)
		os.Exit(1)
	}
	keys := store.NewKeyspace(cfg.Store.Prefix)
	tok := tokenizer.New(cfg.Tokenizer)
	ix := indexer.New(st, keys, tok, cfg.Index, m)
	exec := executor.New(st, keys, tok, cfg.Search, m)

	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled && redisClient != nil {
		queryCache = cache.New(redisClient, keys, cfg.Redis.CacheTTL, m)
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	checker := health.NewChecker()
	checker.Register("index_store", health.PingCheck(st))
	if queryCache != nil {
		checker.Register("query_cache", health.DegradedOnError(redisClient))
	}

	h := handler.New(exec, ix, queryCache, handler.Options{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		MaxBodyBytes: int64(cfg.Tokenizer.MaxInputBytes) + 4096,
	})

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.Logging,
		middleware.Metrics(m),
	}
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		go limiter.Run(ctx, 5*time.Minute)
		chain = append(chain, middleware.RateLimit(limiter))
		slog.Info("rate limiting enabled", "requests_per_minute", cfg.Server.RateLimit)
	}
	chain = append(chain, middleware.Timeout(cfg.Search.Timeout+time.Second))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, chain...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
