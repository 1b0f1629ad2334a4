package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/executor"
	pkgredis "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/redis"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

type recorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recorder) Track(e analytics.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

var docs = []string{"the cat sat", "the dog ran", "cat and cat", "a cat nap", "dogs bark"}

type fixture struct {
	handler *Handler
	exec    *executor.Executor
	store   *memStore
	events  *recorder
	mux     *http.ServeMux
	path    string
}

func newFixture(t *testing.T, fit bool, cfg Config) *fixture {
	t.Helper()
	engine, err := indexer.New(indexer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if fit {
		if err := engine.Fit(context.Background(), docs); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		exec:   executor.New(engine, time.Second, nil),
		store:  &memStore{data: make(map[string][]byte)},
		events: &recorder{},
		mux:    http.NewServeMux(),
		path:   filepath.Join(t.TempDir(), "index.bm25"),
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = f.path
	}
	f.handler = New(f.exec, cache.New(f.store, time.Minute, nil), f.events, cfg, nil)
	f.handler.Register(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding body: %v", method, target, err)
		}
	}
	return rec.Code
}

type searchBody struct {
	Results   []indexer.Hit `json:"results"`
	TotalHits int           `json:"total_hits"`
	IndexID   string        `json:"index_id"`
	CacheHit  bool          `json:"cache_hit"`
	Error     string        `json:"error"`
}

func TestSearch(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 2, MaxResults: 3})

	var body searchBody
	if code := f.do(t, http.MethodGet, "/api/v1/search?q=cat", &body); code != http.StatusOK {
		t.Fatalf("status = %d, body %+v", code, body)
	}
	if body.TotalHits != 2 || len(body.Results) != 2 || body.CacheHit {
		t.Errorf("default limit body = %+v", body)
	}
	if body.Results[0].DocIndex != 2 {
		t.Errorf("best hit = %+v, want document 2", body.Results[0])
	}

	var again searchBody
	f.do(t, http.MethodGet, "/api/v1/search?q=cat", &again)
	if !again.CacheHit || len(again.Results) != 2 || again.Results[0] != body.Results[0] {
		t.Errorf("second search = %+v, want cached copy", again)
	}

	var all searchBody
	f.do(t, http.MethodGet, "/api/v1/search?q=cat&limit=all", &all)
	if all.TotalHits != 3 {
		t.Errorf("limit=all returned %d hits, want 3 (capped by max results)", all.TotalHits)
	}
	var big searchBody
	f.do(t, http.MethodGet, "/api/v1/search?q=cat&limit=50", &big)
	if big.TotalHits != 3 {
		t.Errorf("limit=50 returned %d hits, want 3", big.TotalHits)
	}

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	if len(f.events.events) != 4 {
		t.Fatalf("tracked %d events, want 4", len(f.events.events))
	}
	ev := f.events.events[1].(analytics.SearchEvent)
	if !ev.CacheHit || ev.Returned != 2 || ev.Query != "cat" || ev.IndexID == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSearch_Errors(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 10})
	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/search", http.StatusBadRequest},
		{"/api/v1/search?q=%20%20", http.StatusBadRequest},
		{"/api/v1/search?q=cat&limit=0", http.StatusBadRequest},
		{"/api/v1/search?q=cat&limit=ten", http.StatusBadRequest},
		{"/api/v1/scores", http.StatusBadRequest},
	}
	for _, tt := range tests {
		var body searchBody
		if code := f.do(t, http.MethodGet, tt.target, &body); code != tt.want || body.Error == "" {
			t.Errorf("%s: status %d body %+v, want %d", tt.target, code, body, tt.want)
		}
	}

	var unknown searchBody
	if code := f.do(t, http.MethodGet, "/api/v1/search?q=zebra", &unknown); code != http.StatusOK || unknown.Results == nil || len(unknown.Results) != 0 {
		t.Errorf("unknown term: %d %+v", code, unknown)
	}
}

func TestNotReady(t *testing.T) {
	f := newFixture(t, false, Config{DefaultLimit: 10})
	for _, target := range []string{"/api/v1/search?q=cat", "/api/v1/scores?q=cat", "/api/v1/index"} {
		var body searchBody
		if code := f.do(t, http.MethodGet, target, &body); code != http.StatusServiceUnavailable || body.Error != "no index loaded" {
			t.Errorf("%s: %d %+v", target, code, body)
		}
	}
}

func TestScoresAndIndexStats(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 10})
	var scores executor.ScoresResult
	if code := f.do(t, http.MethodGet, "/api/v1/scores?q=dog", &scores); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(scores.Scores) != len(docs) || !(scores.Scores[1] > 0) || scores.Scores[4] != 0 {
		t.Errorf("scores = %v", scores.Scores)
	}

	var stats indexer.IndexStats
	if code := f.do(t, http.MethodGet, "/api/v1/index", &stats); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if stats.Documents != len(docs) || stats.Fingerprint != f.exec.IndexID() {
		t.Errorf("stats = %+v", stats)
	}
}

func TestReload(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 10})
	f.do(t, http.MethodGet, "/api/v1/search?q=cat", &searchBody{})
	if len(f.store.data) != 1 {
		t.Fatalf("cache holds %d entries, want 1", len(f.store.data))
	}
	oldID := f.exec.IndexID()

	next, err := indexer.New(indexer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := next.Fit(context.Background(), []string{"cat cat", "bird"}); err != nil {
		t.Fatal(err)
	}
	if err := next.Save(f.path); err != nil {
		t.Fatal(err)
	}

	var res ReloadResult
	if code := f.do(t, http.MethodPost, "/api/v1/index/reload", &res); code != http.StatusOK {
		t.Fatalf("reload status = %d", code)
	}
	if res.PreviousIndexID != oldID || res.IndexID != next.Fingerprint() || res.Documents != 2 {
		t.Errorf("reload = %+v", res)
	}
	if len(f.store.data) != 0 {
		t.Errorf("cached results of the replaced index survived: %d", len(f.store.data))
	}
	var body searchBody
	f.do(t, http.MethodGet, "/api/v1/search?q=bird", &body)
	if len(body.Results) != 1 || body.IndexID != next.Fingerprint() {
		t.Errorf("search after reload = %+v", body)
	}
}

func TestReload_MissingFile(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 10})
	oldID := f.exec.IndexID()
	var body searchBody
	if code := f.do(t, http.MethodPost, "/api/v1/index/reload", &body); code != http.StatusInternalServerError {
		t.Errorf("status = %d", code)
	}
	if f.exec.IndexID() != oldID {
		t.Error("a failed reload must keep the active index")
	}
}

func TestHandleIndexEvent(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 10})
	ctx := context.Background()

	same, _ := json.Marshal(analytics.IndexEvent{Type: analytics.EventIndex, Operation: analytics.OpFit, IndexID: f.exec.IndexID()})
	if err := f.handler.HandleIndexEvent(ctx, nil, same); err != nil {
		t.Fatalf("event for the active index: %v", err)
	}
	if err := f.handler.HandleIndexEvent(ctx, nil, []byte("{")); err != nil {
		t.Fatalf("undecodable event should be skipped: %v", err)
	}

	next, err := indexer.New(indexer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := next.Fit(ctx, []string{"fresh"}); err != nil {
		t.Fatal(err)
	}
	if err := next.Save(f.path); err != nil {
		t.Fatal(err)
	}
	fresh, _ := json.Marshal(analytics.IndexEvent{Type: analytics.EventIndex, Operation: analytics.OpFit, IndexID: next.Fingerprint()})
	if err := f.handler.HandleIndexEvent(ctx, nil, fresh); err != nil {
		t.Fatal(err)
	}
	if f.exec.IndexID() != next.Fingerprint() {
		t.Error("announced index was not loaded")
	}
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, true, Config{DefaultLimit: 10})
	f.do(t, http.MethodGet, "/api/v1/search?q=cat", &searchBody{})
	f.do(t, http.MethodGet, "/api/v1/search?q=cat", &searchBody{})

	var stats cache.Stats
	f.do(t, http.MethodGet, "/api/v1/cache/stats", &stats)
	if stats.Hits != 1 || stats.Misses != 1 || stats.CircuitState != "closed" {
		t.Errorf("stats = %+v", stats)
	}
	var inv map[string]any
	if code := f.do(t, http.MethodPost, "/api/v1/cache/invalidate", &inv); code != http.StatusOK || inv["keys_deleted"] != float64(1) {
		t.Errorf("invalidate = %d %v", code, inv)
	}
}

// swapStore runs onGet once, in the middle of the first cache lookup.
type swapStore struct {
	*memStore
	onGet func()
}

func (s *swapStore) Get(ctx context.Context, key string) ([]byte, error) {
	if hook := s.onGet; hook != nil {
		s.onGet = nil
		hook()
	}
	return s.memStore.Get(ctx, key)
}

func TestSearch_ReloadDuringRequest(t *testing.T) {
	fit := func(corpus []string) *indexer.Engine {
		e, err := indexer.New(indexer.DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		if err := e.Fit(context.Background(), corpus); err != nil {
			t.Fatal(err)
		}
		return e
	}
	first := fit(docs)
	second := fit([]string{"dogs bark", "a cat nap", "cat and cat", "the dog ran", "the cat sat"})

	exec := executor.New(first, time.Second, nil)
	store := &swapStore{memStore: &memStore{data: make(map[string][]byte)}}
	store.onGet = func() { exec.Swap(second) }
	mux := http.NewServeMux()
	New(exec, cache.New(store, time.Minute, nil), nil, Config{DefaultLimit: 2, MaxResults: 3}, nil).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=cat", nil))
	var body searchBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || body.IndexID != first.Fingerprint() {
		t.Fatalf("status %d, index %q; want the index the request started on (%q)", rec.Code, body.IndexID, first.Fingerprint())
	}
	want, _ := first.Search(context.Background(), "cat", 2)
	if len(body.Results) != 2 || body.Results[0] != want[0] || body.Results[1] != want[1] {
		t.Errorf("results = %+v, want %+v", body.Results, want)
	}

	raw, err := store.memStore.Get(context.Background(), cache.Key(first.Fingerprint(), first.Parse("cat"), 2))
	if err != nil {
		t.Fatalf("result not cached under the first index: %v", err)
	}
	var cached executor.SearchResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		t.Fatal(err)
	}
	if cached.IndexID != first.Fingerprint() || cached.Results[0] != want[0] {
		t.Errorf("cached %+v under the first index's key", cached)
	}
	if _, err := store.memStore.Get(context.Background(), cache.Key(second.Fingerprint(), second.Parse("cat"), 2)); err == nil {
		t.Error("nothing should be cached for the second index yet")
	}
}
