// Command searcher serves BM25 queries over HTTP from a saved index.
//
// Results are cached in Redis when it is reachable and search events are
// published to Kafka when enabled. With Kafka enabled the service also
// follows the index-events topic and hot-reloads the index whenever the
// indexer announces a new one.
//
// Usage:
//
//	searcher [--config configs/development.yaml] [--index index.bm25]
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

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/resilience"
)

func main() {
	flags := pflag.NewFlagSet("searcher", pflag.ContinueOnError)
	configPath := flags.String("config", "configs/development.yaml", "path to config file")
	indexPath := flags.String("index", "", "index file to serve (overrides index.path)")
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
	if *indexPath != "" {
		cfg.Index.Path = *indexPath
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Index.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	loadOpts := []indexer.Option{indexer.WithMetrics(m)}
	engine, err := indexer.Load(cfg.Index.Path, loadOpts...)
	if err != nil {
		// Readiness reports down until a reload succeeds.
		slog.Error("index not loaded", "path", cfg.Index.Path, "error", err)
		engine, err = indexer.New(indexer.ConfigFrom(cfg.BM25), loadOpts...)
		if err != nil {
			slog.Error("invalid bm25 config", "error", err)
			os.Exit(1)
		}
	}
	exec := executor.New(engine, cfg.Search.QueryTimeout, m)

	var redisClient *pkgredis.Client
	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled {
		err := resilience.Retry(ctx, "redis connect", resilience.RetryConfig{MaxAttempts: 3}, func(ctx context.Context) error {
			var err error
			redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
			return err
		})
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var tracker handler.Tracker
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector := analytics.NewCollector(producer, cfg.Analytics, m)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector
	}

	h := handler.New(exec, queryCache, tracker, handler.Config{
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
		IndexPath:    cfg.Index.Path,
	}, m, loadOpts...)

	if cfg.Kafka.Enabled {
		// No consumer group: each replica reads every announcement.
		kcfg := cfg.Kafka
		kcfg.ConsumerGroup = ""
		indexEvents := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.IndexEvents, h.HandleIndexEvent)
		go func() {
			if err := indexEvents.Start(ctx); err != nil {
				slog.Error("index event consumer stopped", "error", err)
			}
		}()
		slog.Info("following index announcements", "topic", cfg.Kafka.Topics.IndexEvents)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		stats, err := exec.IndexStats()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents, index %s", stats.Documents, stats.Fingerprint)}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if rl := cfg.Server.RateLimit; rl.Enabled {
		chain = middleware.RateLimit(middleware.NewLimiter(ctx, rl.Requests, rl.Window), m)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
