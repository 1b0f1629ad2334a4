// Command analytics runs the analytics aggregation service.
//
// It consumes search and index events from Kafka, aggregates them in memory
// (query volume, latency percentiles, cache hit rate, pruning efficiency, top
// and zero-result queries) and serves the aggregate at GET /api/v1/analytics.
// Snapshots are saved to PostgreSQL periodically, restored on start, and
// listed at GET /api/v1/analytics/history.
//
// Usage:
//
//	analytics [--config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/resilience"
)

func main() {
	flags := pflag.NewFlagSet("analytics", pflag.ContinueOnError)
	configPath := flags.String("config", "configs/development.yaml", "path to config file")
	noStore := flags.Bool("no-store", false, "keep aggregates in memory only")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	var store *aggregator.Store
	var snapshotsDone <-chan struct{}
	if !*noStore {
		var db *postgres.Client
		err := resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func(ctx context.Context) error {
			var err error
			db, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			slog.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = aggregator.NewStore(db, aggregator.DefaultRetention)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("preparing snapshot table failed", "error", err)
			os.Exit(1)
		}
		latest, err := store.LatestSnapshot(ctx)
		if err != nil {
			slog.Warn("restoring aggregates failed, starting from zero", "error", err)
		} else if latest != nil {
			agg.Restore(latest)
			slog.Info("aggregates restored", "captured_at", latest.CapturedAt, "total_searches", latest.TotalSearches)
		}
		snapshotsDone = store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDegraded))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, agg.HandleEvent)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents, "group", cfg.Kafka.ConsumerGroup)
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		select {
		case <-consumerDone:
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
		}
	})

	var history analytics.SnapshotLister
	if store != nil {
		history = store
	}
	analyticsHandler := analytics.NewHandler(agg, history)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
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
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-consumerDone
	if snapshotsDone != nil {
		<-snapshotsDone
	}
	slog.Info("analytics service stopped")
}
