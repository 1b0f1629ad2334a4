// Package handler exposes the search service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/middleware"
)

// Tracker receives analytics events. *analytics.Collector implements it.
type Tracker interface {
	Track(event analytics.Event)
}

// Config holds the request limits and the index file reloads read from.
type Config struct {
	DefaultLimit int
	// MaxResults caps every limit; 0 leaves "limit=all" unbounded.
	MaxResults int
	IndexPath  string
}

type Handler struct {
	executor *executor.Executor
	cache    *cache.QueryCache
	tracker  Tracker
	cfg      Config
	loadOpts []indexer.Option
	metrics  *metrics.Metrics
	logger   *slog.Logger
	reloadMu sync.Mutex
}

// New returns a Handler. queryCache, tracker and m may be nil. loadOpts are
// passed to indexer.Load on reload.
func New(exec *executor.Executor, queryCache *cache.QueryCache, tracker Tracker, cfg Config, m *metrics.Metrics, loadOpts ...indexer.Option) *Handler {
	return &Handler{
		executor: exec,
		cache:    queryCache,
		tracker:  tracker,
		cfg:      cfg,
		loadOpts: loadOpts,
		metrics:  m,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/scores", h.Scores)
	mux.HandleFunc("GET /api/v1/index", h.IndexStats)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type searchResponse struct {
	*executor.SearchResult
	CacheHit bool    `json:"cache_hit"`
	TookMs   float64 `json:"took_ms"`
}

// Search serves GET /api/v1/search?q=&limit=. limit defaults to the
// configured default; "all" ranks every match up to MaxResults.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, apperrors.Invalidf("query parameter 'q' is required"))
		return
	}
	limit, err := h.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	// One engine serves the plan, the cache key and the query, so a
	// concurrent reload cannot file one index's ranking under another's key.
	engine := h.executor.Engine()
	compute := func() (*executor.SearchResult, error) {
		return h.executor.ExecuteOn(ctx, engine, query, limit)
	}
	var (
		result      *executor.SearchResult
		cacheHit    bool
		cacheStatus = "disabled"
	)
	plan := engine.Parse(query)
	if h.cache != nil && !plan.Empty() && engine.Ready() {
		key := cache.Key(engine.Fingerprint(), plan, limit)
		result, cacheHit, err = h.cache.GetOrCompute(ctx, key, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute()
	}
	took := time.Since(start)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(took.Seconds())
	}

	event := analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Query:     query,
		Terms:     plan.Terms,
		Limit:     limit,
		LatencyMs: float64(took.Microseconds()) / 1000,
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(ctx),
	}
	if err != nil {
		log.Error("search failed", "query", query, "error", err)
		event.Error = err.Error()
		h.track(event)
		h.writeError(w, err)
		return
	}
	event.Returned = len(result.Results)
	event.Evaluated = result.Stats.Evaluated
	event.BlockSkips = result.Stats.BlockSkips
	event.IndexID = result.IndexID
	h.track(event)

	log.Info("search completed",
		"query", query,
		"limit", limit,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", event.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, searchResponse{SearchResult: result, CacheHit: cacheHit, TookMs: event.LatencyMs})
}

// Scores serves GET /api/v1/scores?q=, the exhaustive score of every
// document by position.
func (h *Handler) Scores(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, apperrors.Invalidf("query parameter 'q' is required"))
		return
	}
	result, err := h.executor.Scores(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.executor.IndexStats()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// ReloadResult describes a completed index swap.
type ReloadResult struct {
	PreviousIndexID string `json:"previous_index_id"`
	IndexID         string `json:"index_id"`
	Documents       int    `json:"documents"`
	Terms           int    `json:"terms"`
	DurationMs      int64  `json:"duration_ms"`
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := h.ReloadIndex(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// ReloadIndex loads the configured index file and swaps it in. Cached
// results of the replaced index are dropped. Queries keep being served
// throughout.
func (h *Handler) ReloadIndex(ctx context.Context) (*ReloadResult, error) {
	if h.cfg.IndexPath == "" {
		return nil, apperrors.Invalidf("no index path configured")
	}
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	start := time.Now()
	engine, err := indexer.Load(h.cfg.IndexPath, h.loadOpts...)
	if err != nil {
		return nil, err
	}
	stats, err := engine.Stats()
	if err != nil {
		return nil, fmt.Errorf("reading stats of reloaded index: %w", err)
	}
	old := h.executor.Swap(engine)
	res := &ReloadResult{
		PreviousIndexID: old.Fingerprint(),
		IndexID:         stats.Fingerprint,
		Documents:       stats.Documents,
		Terms:           stats.Terms,
		DurationMs:      time.Since(start).Milliseconds(),
	}
	if h.cache != nil && res.PreviousIndexID != res.IndexID {
		if _, err := h.cache.InvalidateIndex(ctx, res.PreviousIndexID); err != nil {
			h.logger.Warn("dropping cached results of replaced index failed", "index", res.PreviousIndexID, "error", err)
		}
	}
	h.track(analytics.IndexEvent{
		Type:       analytics.EventIndex,
		Operation:  analytics.OpReload,
		IndexID:    res.IndexID,
		Path:       h.cfg.IndexPath,
		Documents:  res.Documents,
		Terms:      res.Terms,
		DurationMs: res.DurationMs,
		Timestamp:  time.Now().UTC(),
	})
	h.logger.Info("index reloaded",
		"path", h.cfg.IndexPath,
		"previous_index", res.PreviousIndexID,
		"index", res.IndexID,
		"documents", res.Documents,
	)
	return res, nil
}

// HandleIndexEvent is a kafka.MessageHandler for the index-events topic. A
// newly fitted index other than the active one triggers a reload.
func (h *Handler) HandleIndexEvent(ctx context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[analytics.IndexEvent](value)
	if err != nil {
		h.logger.Error("skipping undecodable index event", "error", err)
		return nil
	}
	if event.Type != analytics.EventIndex || event.Operation != analytics.OpFit {
		return nil
	}
	if event.IndexID == h.executor.IndexID() {
		return nil
	}
	h.logger.Info("new index announced", "index", event.IndexID, "path", event.Path)
	_, err = h.ReloadIndex(ctx)
	return err
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) parseLimit(s string) (int, error) {
	switch s {
	case "":
		return h.clamp(h.cfg.DefaultLimit), nil
	case "all":
		return h.cfg.MaxResults, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, apperrors.Invalidf("limit must be a positive integer or \"all\", got %q", s)
	}
	return h.clamp(n), nil
}

func (h *Handler) clamp(limit int) int {
	if h.cfg.MaxResults > 0 && limit > h.cfg.MaxResults {
		return h.cfg.MaxResults
	}
	return limit
}

func (h *Handler) track(event analytics.Event) {
	if h.tracker != nil {
		h.tracker.Track(event)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Internal failures are not
// described to the client.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	switch {
	case errors.Is(err, apperrors.ErrTimeout):
		message = "search timed out"
	case errors.Is(err, apperrors.ErrNotReady):
		message = "no index loaded"
	case status >= http.StatusInternalServerError:
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
