// Command indexer consumes document events from Kafka and applies them to
// the index. Run with -backfill to rebuild the index from PostgreSQL.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer/backfill"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion/repository"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/kvsearch.yaml", "path to config file")
	runBackfill := flag.Bool("backfill", false, "reindex every live document from PostgreSQL and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "store", cfg.Store.Backend, "prefix", cfg.Store.Prefix, "backfill", *runBackfill)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled && !*runBackfill {
		m = metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, prometheus.DefaultGatherer); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	var redisClient *pkgredis.Client
	var rdb redis.Cmdable
	if cfg.Store.Backend == store.BackendRedis {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		rdb = redisClient.Cmdable()
	}

	st, err := store.Open(cfg.Store, rdb, m)
	if err != nil {
		slog.Error("failed to open index store", "error", err)
		os.Exit(1)
	}
	keys := store.NewKeyspace(cfg.Store.Prefix)
	ix := indexer.New(st, keys, tokenizer.New(cfg.Tokenizer), cfg.Index, m)

	var repo *repository.Repository
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = repository.New(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure document schema", "error", err)
			os.Exit(1)
		}
	}

	if *runBackfill {
		if repo == nil {
			slog.Error("backfill requires postgres")
			os.Exit(1)
		}
		result, err := backfill.New(repo, ix, repo, cfg.Index.BackfillConcurrency).Run(ctx)
		if err != nil {
			slog.Error("backfill failed", "error", err)
			os.Exit(1)
		}
		if redisClient != nil {
			if _, err := cache.New(redisClient, keys, cfg.Redis.CacheTTL, nil).Invalidate(ctx); err != nil {
				slog.Warn("cache invalidation after backfill failed", "error", err)
			}
		}
		slog.Info("backfill finished", "documents", result.Documents, "failed", result.Failed, "duration", result.Duration)
		return
	}

	var status consumer.StatusRecorder
	if repo != nil {
		status = repo
	}
	var invalidator consumer.CacheInvalidator
	if redisClient != nil && cfg.Search.CacheEnabled {
		invalidator = cache.New(redisClient, keys, cfg.Redis.CacheTTL, m)
	}

	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents, consumer.HandleMessage(ix, status, invalidator))
	indexConsumer := consumer.New(kafkaConsumer)

	checker := health.NewChecker()
	checker.Register("index_store", health.PingCheck(st))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("indexer health server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}

	slog.Info("indexer service stopped")
}
