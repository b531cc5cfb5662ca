// Command ingestion accepts document writes over HTTP, records them in
// PostgreSQL and publishes a DocumentEvent per write to Kafka, where the
// indexer picks them up.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/kvsearch.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion/repository"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/postgres"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

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

	checker := health.NewChecker()

	var docs publisher.DocumentStore
	if cfg.Postgres.Host != "" {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		repo := repository.New(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure document schema", "error", err)
			os.Exit(1)
		}
		docs = repo
		checker.Register("postgres", health.PingCheck(db))
		slog.Info("connected to postgres")
	} else {
		slog.Warn("postgres disabled, documents are published without being persisted")
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentEvents)
	defer producer.Close()
	checker.Register("kafka", health.DegradedOnError(producer))
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentEvents)

	h := handler.New(publisher.New(docs, producer))
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Logging,
			middleware.Metrics(m),
		),
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
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
