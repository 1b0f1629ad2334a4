// Command indexer fits a BM25 index over a corpus and saves it.
//
// The corpus comes from a local file (one document per line, or JSONL with
// external IDs) or from a PostgreSQL query. When Kafka is enabled the new
// index is announced on the index-events topic so running search services
// reload it, and reported to the analytics topic.
//
// Usage:
//
//	indexer [--config configs/development.yaml] [--corpus docs.txt] [--output index.bm25]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

func run() (err error) {
	flags := pflag.NewFlagSet("indexer", pflag.ContinueOnError)
	configPath := flags.String("config", "configs/development.yaml", "path to config file")
	corpusPath := flags.String("corpus", "", "corpus file (overrides corpus.path and selects the file source)")
	format := flags.String("format", "", "corpus file format: lines or jsonl (overrides corpus.format)")
	output := flags.StringP("output", "o", "", "index file to write (overrides index.path)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *corpusPath != "" {
		cfg.Corpus.Source = "file"
		cfg.Corpus.Path = *corpusPath
	}
	if *format != "" {
		cfg.Corpus.Format = *format
	}
	if *output != "" {
		cfg.Index.Path = *output
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, trace := tracing.Start(ctx, "build index")
	defer func() {
		trace.End(err)
		trace.Log(ctx, slog.Default(), slog.LevelInfo)
	}()

	var db *postgres.Client
	if cfg.Corpus.Source == "postgres" {
		err := resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func(ctx context.Context) error {
			var err error
			db, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
	}
	source, err := corpus.FromConfig(cfg.Corpus, db)
	if err != nil {
		return err
	}
	_, span := tracing.Start(ctx, "load corpus")
	docs, err := source.Load(ctx)
	span.End(err)
	if err != nil {
		return err
	}
	span.SetAttr("documents", docs.Len())
	slog.Info("corpus loaded", "source", source.Describe(), "documents", docs.Len(), "external_ids", docs.IDs != nil)

	compression, err := segment.ParseCompression(cfg.Index.Compression)
	if err != nil {
		return err
	}
	m := metrics.New()
	engine, err := indexer.New(indexer.ConfigFrom(cfg.BM25),
		indexer.WithCompression(compression),
		indexer.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	_, span = tracing.Start(ctx, "fit")
	err = engine.FitWithIDs(ctx, docs.Texts, docs.IDs)
	span.End(err)
	if err != nil {
		return err
	}
	_, span = tracing.Start(ctx, "save")
	err = engine.Save(cfg.Index.Path)
	span.End(err)
	if err != nil {
		return err
	}
	stats, err := engine.Stats()
	if err != nil {
		return err
	}
	slog.Info("index written",
		"path", cfg.Index.Path,
		"index", stats.Fingerprint,
		"documents", stats.Documents,
		"terms", stats.Terms,
		"blocks", stats.Blocks,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if cfg.Kafka.Enabled {
		_, span = tracing.Start(ctx, "announce")
		defer span.End(nil)
		announce(ctx, cfg, analytics.IndexEvent{
			Type:       analytics.EventIndex,
			Operation:  analytics.OpFit,
			IndexID:    stats.Fingerprint,
			Path:       cfg.Index.Path,
			Documents:  stats.Documents,
			Terms:      stats.Terms,
			DurationMs: time.Since(start).Milliseconds(),
			Timestamp:  time.Now().UTC(),
		})
	}
	return nil
}

// announce publishes the new index to both topics. The index is already on
// disk, so failures are logged and not fatal.
func announce(ctx context.Context, cfg *config.Config, event analytics.IndexEvent) {
	for _, topic := range []string{cfg.Kafka.Topics.IndexEvents, cfg.Kafka.Topics.AnalyticsEvents} {
		producer := kafka.NewProducer(cfg.Kafka, topic)
		publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := producer.Publish(publishCtx, kafka.Event{Key: string(event.Kind()), Value: event})
		cancel()
		if err != nil {
			slog.Warn("announcing index failed", "topic", topic, "error", err)
		} else {
			slog.Info("index announced", "topic", topic, "index", event.IndexID)
		}
		if err := producer.Close(); err != nil {
			slog.Warn("closing producer failed", "topic", topic, "error", err)
		}
	}
}
