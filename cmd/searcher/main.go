// Command searcher serves the bookshelf search engine over HTTP: the
// collection API, the JSON query DSL, GET /books and live analytics.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml] [-seed] [-reindex]
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
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/books"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	seed := flag.Bool("seed", false, "index the demo catalogue when the books index is empty")
	reindex := flag.Bool("reindex", false, "rebuild the books index from Postgres on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Engine,
		"data_dir", cfg.Storage.DataDir,
	)

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

	registry := indexer.NewRegistry(cfg.Storage, cfg.Index, indexer.WithMetrics(m))
	if err := registry.Load(); err != nil {
		slog.Error("failed to load indexes", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Error("closing indexes failed", "error", err)
		}
	}()
	engine, err := books.EnsureIndex(registry)
	if err != nil {
		slog.Error("failed to open books index", "error", err)
		os.Exit(1)
	}

	// Postgres backs the catalogue reindex and analytics snapshots. Search
	// runs without it.
	var db *postgres.Client
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err = postgres.New(pgCtx, cfg.Postgres)
	cancel()
	if err != nil {
		slog.Warn("postgres unavailable, reindex and analytics snapshots disabled", "error", err)
		db = nil
	} else {
		defer db.Close()
	}

	agg := analytics.NewAggregator()
	var snapshots analytics.SnapshotLister
	if db != nil {
		store := aggregator.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			slog.Error("analytics migration failed", "error", err)
		} else {
			if latest, err := store.LatestSnapshot(ctx); err != nil {
				slog.Warn("could not restore analytics", "error", err)
			} else if latest != nil {
				agg.Restore(*latest)
			}
			store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
			snapshots = store
		}
	}

	var publisher analytics.Publisher = analytics.NewLocalPublisher(agg)
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		publisher = producer

		analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, agg.HandleEvent)
		defer analyticsConsumer.Close()
		go func() {
			if err := analyticsConsumer.Start(ctx); err != nil {
				slog.Error("analytics consumer stopped", "error", err)
			}
		}()
	}
	collector := analytics.NewCollector(publisher, cfg.Analytics.BufferSize,
		analytics.WithBatching(cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval),
		analytics.WithCollectorMetrics(m),
	)
	collector.Start(ctx)
	defer collector.Close()

	syncer := books.NewSyncer(engine, collector)
	switch {
	case *reindex && db != nil:
		repo := books.NewRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			slog.Error("books migration failed", "error", err)
			os.Exit(1)
		}
		if _, err := syncer.Reindex(ctx, repo); err != nil {
			slog.Error("reindex failed", "error", err)
			os.Exit(1)
		}
	case *reindex:
		slog.Warn("reindex requested without postgres, skipping")
	case *seed && engine.DocCount() == 0:
		if _, err := syncer.Reindex(ctx, books.StaticSource(books.Seeds(time.Now()))); err != nil {
			slog.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	if cfg.Kafka.Enabled {
		changes := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.BookChanges, syncer.HandleMessage)
		defer changes.Close()
		go func() {
			if err := changes.Start(ctx); err != nil {
				slog.Error("book change consumer stopped", "error", err)
			}
		}()
		slog.Info("consuming book changes", "topic", cfg.Kafka.Topics.BookChanges)
	}
	registry.StartRefreshLoops(ctx)

	var (
		queryCache  *cache.QueryCache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		e, err := registry.Get(books.IndexName)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d documents", e.Snapshot().Generation(), e.DocCount()),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping, health.StatusDegraded))
	}
	if db != nil {
		checker.Register("postgres", health.Ping(db.Ping, health.StatusDegraded))
	}

	search := handler.New(registry, executor.New(m), cfg.Search,
		handler.WithCache(queryCache),
		handler.WithCollector(collector),
		handler.WithMetrics(m),
	)
	analyticsHandler := analytics.NewHandler(agg, snapshots)

	mux := http.NewServeMux()
	search.Register(mux)
	books.NewHandler(search).Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsHandler.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := middleware.NewRateLimiter(cfg.Search.RateLimit, cfg.Search.RateBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(); n > 0 {
					slog.Debug("rate limiter buckets evicted", "count", n)
				}
			}
		}
	}()

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr, "documents", engine.DocCount())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-drained
	slog.Info("search service stopped")
}
