// Package cache stores search results in Redis keyed by the index they were
// computed on, so a new index never serves stale rankings. Redis failures
// degrade to computing results directly; a circuit breaker stops the cache
// from adding latency while Redis is down.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/resilience"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "bm25:"

// Store is the subset of the Redis client the cache needs. Get must return
// an error matching pkgredis.Nil for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	skipped atomic.Int64
}

// New returns a cache over store. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	c := &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     10 * time.Second,
		OnStateChange: func(name string, _, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return c
}

// Key is the cache key for plan against indexID with the given limit. Term
// order is significant.
func Key(indexID string, plan *parser.QueryPlan, limit int) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s|limit=%d", plan.Key(), limit)))
	return keyPrefix + indexID + ":" + hex.EncodeToString(sum[:16])
}

// Get returns the cached result for key. Any Redis failure is a miss.
func (c *QueryCache) Get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	var data []byte
	err := c.guard(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil || data == nil {
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

// Set stores result under key. Failures are logged and otherwise ignored.
func (c *QueryCache) Set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.guard(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for key, or runs compute once per
// key across concurrent callers and caches what it returns. The boolean
// reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		// A result computed on another index than the key names is served
		// but never stored.
		if strings.HasPrefix(key, keyPrefix+result.IndexID+":") {
			c.Set(ctx, key, result)
		} else {
			c.logger.Warn("not caching result of a different index", "key", key, "index", result.IndexID)
		}
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate removes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	return c.flush(ctx, keyPrefix+"*")
}

// InvalidateIndex removes the results computed on indexID.
func (c *QueryCache) InvalidateIndex(ctx context.Context, indexID string) (int64, error) {
	if indexID == "" {
		return 0, nil
	}
	return c.flush(ctx, keyPrefix+indexID+":*")
}

func (c *QueryCache) flush(ctx context.Context, pattern string) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "keys_deleted", deleted)
	return deleted, nil
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	Skipped      int64  `json:"skipped"`
	HitRate      string `json:"hit_rate"`
	CircuitState string `json:"circuit_state"`
}

func (c *QueryCache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:         hits,
		Misses:       misses,
		Skipped:      c.skipped.Load(),
		HitRate:      fmt.Sprintf("%.1f%%", rate),
		CircuitState: c.breaker.GetState().String(),
	}
}

// guard runs fn through the breaker, counting calls the open circuit turned
// away.
func (c *QueryCache) guard(fn func() error) error {
	err := c.breaker.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.skipped.Add(1)
	}
	return err
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
