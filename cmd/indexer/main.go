// Command indexer manages the book catalogue feeding the search index.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] seed
//	go run ./cmd/indexer publish
//	go run ./cmd/indexer reindex
//
// seed writes the demo catalogue to Postgres and announces it on the change
// feed. publish announces every stored book, letting a running searcher
// catch up. reindex rebuilds the books index offline from Postgres and must
// not run while a searcher holds the same data directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/books"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bookshelf-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] seed|publish|reindex\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	repo := books.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "seed":
		err = seed(ctx, cfg, repo)
	case "publish":
		err = publish(ctx, cfg, repo)
	case "reindex":
		err = reindex(ctx, cfg, repo)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		slog.Error("indexer failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, repo *books.Repository) error {
	saved := make([]books.Book, 0, 8)
	for _, b := range books.Seeds(time.Now()) {
		stored, err := repo.Save(ctx, b)
		if err != nil {
			return err
		}
		saved = append(saved, stored)
	}
	if err := repo.ResetSequences(ctx); err != nil {
		return err
	}
	slog.Info("catalogue seeded", "books", len(saved))
	if !cfg.Kafka.Enabled {
		slog.Info("kafka disabled, run the searcher with -reindex to pick up the seeds")
		return nil
	}
	return announce(ctx, cfg, saved)
}

func publish(ctx context.Context, cfg *config.Config, repo *books.Repository) error {
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("publish needs kafka.enabled")
	}
	all, err := repo.All(ctx)
	if err != nil {
		return err
	}
	return announce(ctx, cfg, all)
}

func announce(ctx context.Context, cfg *config.Config, list []books.Book) error {
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.BookChanges)
	defer producer.Close()
	if err := books.NewChangePublisher(producer).PublishUpsert(ctx, list...); err != nil {
		return err
	}
	slog.Info("book changes published", "books", len(list), "topic", cfg.Kafka.Topics.BookChanges)
	return nil
}

func reindex(ctx context.Context, cfg *config.Config, repo *books.Repository) error {
	registry := indexer.NewRegistry(cfg.Storage, cfg.Index)
	if err := registry.Load(); err != nil {
		return err
	}
	defer registry.Close()

	// Drop the collection first so books deleted from Postgres disappear.
	if registry.IndexExists(books.IndexName) {
		if err := registry.DeleteIndex(books.IndexName); err != nil {
			return err
		}
	}
	engine, err := books.EnsureIndex(registry)
	if err != nil {
		return err
	}
	gen, err := books.NewSyncer(engine, nil).Reindex(ctx, repo)
	if err != nil {
		return err
	}
	if err := engine.Flush(); err != nil {
		return err
	}
	slog.Info("offline reindex complete", "generation", gen, "documents", engine.DocCount())
	return nil
}
