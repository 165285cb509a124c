// Command analytics runs the standalone analytics service.
//
// It consumes search and indexing events from Kafka, aggregates them in
// memory (searches per index and query kind, latency percentiles, cache hit
// rate, zero-result and top queries), snapshots the aggregate to Postgres
// and serves it at GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	if !cfg.Kafka.Enabled {
		slog.Error("the analytics service consumes kafka; set kafka.enabled")
		os.Exit(1)
	}
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
	}

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := aggregator.NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		slog.Error("analytics migration failed", "error", err)
		os.Exit(1)
	}

	agg := analytics.NewAggregator()
	if latest, err := store.LatestSnapshot(ctx); err != nil {
		slog.Warn("could not restore analytics", "error", err)
	} else if latest != nil {
		agg.Restore(*latest)
		slog.Info("analytics restored", "total_searches", latest.TotalSearches)
	}
	store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, agg.HandleEvent)
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer stopped", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping, health.StatusDegraded))
	h := analytics.NewHandler(agg, store)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
