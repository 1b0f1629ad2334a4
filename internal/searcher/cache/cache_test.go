package cache

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/parser"
	pkgredis "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/resilience"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	gets atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return v, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func plan(query string) *parser.QueryPlan {
	return parser.Parse(query, tokenizer.Unicode{})
}

func result(query string) *executor.SearchResult {
	return &executor.SearchResult{
		Query:     query,
		Terms:     []string{query},
		TotalHits: 1,
		Results:   []indexer.Hit{{DocIndex: 2, ID: 7, Score: 1.25}},
		IndexID:   "idx",
	}
}

func TestKey(t *testing.T) {
	k := Key("abc", plan("cat dog"), 10)
	if !strings.HasPrefix(k, "bm25:abc:") {
		t.Errorf("key %q lacks index prefix", k)
	}
	if k != Key("abc", plan("  cat   dog "), 10) {
		t.Error("whitespace should not change the key")
	}
	for _, other := range []string{
		Key("abd", plan("cat dog"), 10),
		Key("abc", plan("cat dog"), 11),
		Key("abc", plan("dog cat"), 10),
		Key("abc", plan("cat dog dog"), 10),
	} {
		if other == k {
			t.Errorf("key collision: %q", other)
		}
	}
}

func TestGetOrCompute(t *testing.T) {
	store := newFakeStore()
	c := New(store, time.Minute, nil)
	key := Key("idx", plan("cat"), 5)
	calls := 0
	compute := func() (*executor.SearchResult, error) {
		calls++
		return result("cat"), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), key, compute)
	if err != nil || hit || got.Results[0].ID != 7 {
		t.Fatalf("first call = %+v, %v, %v", got, hit, err)
	}
	got, hit, err = c.GetOrCompute(context.Background(), key, compute)
	if err != nil || !hit || got.Results[0].Score != 1.25 {
		t.Fatalf("second call = %+v, %v, %v", got, hit, err)
	}
	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.HitRate != "50.0%" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	c := New(newFakeStore(), time.Minute, nil)
	key := Key("idx", plan("cat"), 5)
	boom := errors.New("boom")
	if _, _, err := c.GetOrCompute(context.Background(), key, func() (*executor.SearchResult, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, ok := c.Get(context.Background(), key); ok {
		t.Error("a failed computation must not be cached")
	}
}

func TestGetOrCompute_OtherIndexNotCached(t *testing.T) {
	c := New(newFakeStore(), time.Minute, nil)
	key := Key("old", plan("cat"), 5)
	got, _, err := c.GetOrCompute(context.Background(), key, func() (*executor.SearchResult, error) {
		return result("cat"), nil // computed on "idx"
	})
	if err != nil || got.IndexID != "idx" {
		t.Fatalf("GetOrCompute = %+v, %v", got, err)
	}
	if _, ok := c.Get(context.Background(), key); ok {
		t.Error("a result of another index was stored under this key")
	}
}

func TestGetOrCompute_Singleflight(t *testing.T) {
	c := New(newFakeStore(), time.Minute, nil)
	key := Key("idx", plan("cat"), 5)
	var calls atomic.Int64
	release := make(chan struct{})
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		<-release
		return result("cat"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := c.GetOrCompute(context.Background(), key, compute); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := calls.Load(); n < 1 || n > 2 {
		t.Errorf("compute ran %d times for concurrent identical queries", n)
	}
}

func TestRedisDownDegrades(t *testing.T) {
	store := newFakeStore()
	store.fail(errors.New("connection refused"))
	c := New(store, time.Minute, nil)
	key := Key("idx", plan("cat"), 5)

	for i := 0; i < 20; i++ {
		got, hit, err := c.GetOrCompute(context.Background(), key, func() (*executor.SearchResult, error) {
			return result("cat"), nil
		})
		if err != nil || hit || got == nil {
			t.Fatalf("call %d = %+v, %v, %v", i, got, hit, err)
		}
	}
	stats := c.Stats()
	if stats.CircuitState != resilience.StateOpen.String() {
		t.Errorf("circuit = %s, want open", stats.CircuitState)
	}
	if stats.Skipped == 0 {
		t.Error("open circuit should skip Redis calls")
	}
	if gets := store.gets.Load(); gets >= 20 {
		t.Errorf("Redis was called %d times despite the open circuit", gets)
	}
}

func TestInvalidateIndex(t *testing.T) {
	store := newFakeStore()
	c := New(store, time.Minute, nil)
	ctx := context.Background()
	c.Set(ctx, Key("old", plan("cat"), 5), result("cat"))
	c.Set(ctx, Key("old", plan("dog"), 5), result("dog"))
	c.Set(ctx, Key("new", plan("cat"), 5), result("cat"))

	n, err := c.InvalidateIndex(ctx, "old")
	if err != nil || n != 2 {
		t.Fatalf("InvalidateIndex = %d, %v", n, err)
	}
	if _, ok := c.Get(ctx, Key("new", plan("cat"), 5)); !ok {
		t.Error("results for other indexes must survive")
	}
	if n, _ := c.InvalidateIndex(ctx, ""); n != 0 {
		t.Errorf("empty index id removed %d keys", n)
	}
	n, err = c.Invalidate(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Invalidate = %d, %v", n, err)
	}
}
