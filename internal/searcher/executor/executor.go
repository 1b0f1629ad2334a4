// Package executor runs queries against the active engine under a per-query
// deadline and shapes the answers the HTTP layer and the cache exchange.
package executor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/wand"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/resilience"
)

// SearchResult is a ranked answer. TotalHits is the number of results
// returned, which for a bounded query is at most the limit.
type SearchResult struct {
	Query     string        `json:"query"`
	Terms     []string      `json:"terms"`
	TotalHits int           `json:"total_hits"`
	Results   []indexer.Hit `json:"results"`
	IndexID   string        `json:"index_id"`
	Stats     wand.Stats    `json:"stats"`
}

// ScoresResult carries the exhaustive score of every document.
type ScoresResult struct {
	Query   string    `json:"query"`
	IndexID string    `json:"index_id"`
	Scores  []float64 `json:"scores"`
}

// Executor is safe for concurrent use. Swap replaces the engine without
// disturbing queries already running against the old one.
type Executor struct {
	engine  atomic.Pointer[indexer.Engine]
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns an Executor over engine. A non-positive timeout leaves
// queries unbounded; m may be nil.
func New(engine *indexer.Engine, timeout time.Duration, m *metrics.Metrics) *Executor {
	e := &Executor{
		timeout: timeout,
		metrics: m,
		logger:  slog.Default().With("component", "query-executor"),
	}
	e.engine.Store(engine)
	return e
}

func (e *Executor) Engine() *indexer.Engine {
	return e.engine.Load()
}

// Swap installs engine and returns the one it replaced.
func (e *Executor) Swap(engine *indexer.Engine) *indexer.Engine {
	old := e.engine.Swap(engine)
	e.logger.Info("engine swapped", "previous_index", old.Fingerprint(), "index", engine.Fingerprint())
	return old
}

// IndexID identifies the active index contents.
func (e *Executor) IndexID() string {
	return e.engine.Load().Fingerprint()
}

func (e *Executor) IndexStats() (indexer.IndexStats, error) {
	return e.engine.Load().Stats()
}

// Execute returns the limit best documents for query. limit == 0 ranks
// every matching document.
func (e *Executor) Execute(ctx context.Context, query string, limit int) (*SearchResult, error) {
	return e.ExecuteOn(ctx, e.engine.Load(), query, limit)
}

// ExecuteOn is Execute against a specific engine, normally one obtained from
// Engine earlier in the same request. The result's IndexID is always that
// engine's, even if Swap runs in the meantime.
func (e *Executor) ExecuteOn(ctx context.Context, engine *indexer.Engine, query string, limit int) (*SearchResult, error) {
	if limit < 0 {
		return nil, apperrors.Invalidf("limit must not be negative, got %d", limit)
	}
	res, err := resilience.Call(ctx, e.timeout, "search", func(ctx context.Context) (*indexer.QueryResult, error) {
		return engine.Query(ctx, query, limit)
	})
	if err != nil {
		e.countQuery("error")
		return nil, err
	}
	if len(res.Hits) == 0 {
		e.countQuery("zero_result")
	} else {
		e.countQuery("hit")
	}
	if e.metrics != nil {
		e.metrics.SearchResultsCount.Observe(float64(len(res.Hits)))
	}
	logger.FromContext(ctx).Debug("query executed",
		"query", query,
		"terms", res.Terms,
		"limit", limit,
		"results", len(res.Hits),
		"evaluated", res.Stats.Evaluated,
		"block_skips", res.Stats.BlockSkips,
	)
	return &SearchResult{
		Query:     query,
		Terms:     res.Terms,
		TotalHits: len(res.Hits),
		Results:   res.Hits,
		IndexID:   engine.Fingerprint(),
		Stats:     res.Stats,
	}, nil
}

// Scores returns the exact score of every document for query.
func (e *Executor) Scores(ctx context.Context, query string) (*ScoresResult, error) {
	engine := e.engine.Load()
	scores, err := resilience.Call(ctx, e.timeout, "scores", func(ctx context.Context) ([]float64, error) {
		return engine.GetScores(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return &ScoresResult{Query: query, IndexID: engine.Fingerprint(), Scores: scores}, nil
}

func (e *Executor) countQuery(resultType string) {
	if e.metrics != nil {
		e.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}
