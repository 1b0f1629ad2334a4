package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func fitted(t *testing.T, docs ...string) *indexer.Engine {
	t.Helper()
	e, err := indexer.New(indexer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Fit(context.Background(), docs); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestExecute(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	exec := New(fitted(t, "the cat sat", "the dog ran", "cat and cat"), 0, m)
	ctx := context.Background()

	res, err := exec.Execute(ctx, "cat", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalHits != 1 || len(res.Results) != 1 || res.Results[0].DocIndex != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.IndexID == "" || res.IndexID != exec.IndexID() {
		t.Errorf("IndexID = %q, want %q", res.IndexID, exec.IndexID())
	}

	all, err := exec.Execute(ctx, "cat", 0)
	if err != nil {
		t.Fatal(err)
	}
	if all.TotalHits != 2 {
		t.Errorf("limit 0 returned %d hits, want 2", all.TotalHits)
	}

	none, err := exec.Execute(ctx, "zebra", 5)
	if err != nil || none.Results == nil || len(none.Results) != 0 {
		t.Errorf("unknown term = %+v, %v", none, err)
	}

	if _, err := exec.Execute(ctx, "cat", -1); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("negative limit: err = %v", err)
	}
}

func TestExecute_NotReady(t *testing.T) {
	e, err := indexer.New(indexer.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	exec := New(e, 0, nil)
	if _, err := exec.Execute(context.Background(), "cat", 1); !errors.Is(err, apperrors.ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
	if _, err := exec.Scores(context.Background(), "cat"); !errors.Is(err, apperrors.ErrNotReady) {
		t.Errorf("Scores err = %v, want ErrNotReady", err)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	exec := New(fitted(t, "a b", "b c"), 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.Execute(ctx, "b", 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScores(t *testing.T) {
	exec := New(fitted(t, "cat", "dog", "cat cat"), 0, nil)
	res, err := exec.Scores(context.Background(), "cat")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Scores) != 3 || res.Scores[1] != 0 || !(res.Scores[2] > res.Scores[0]) {
		t.Errorf("scores = %v", res.Scores)
	}
}

func TestSwap(t *testing.T) {
	first := fitted(t, "cat")
	exec := New(first, 0, nil)
	oldID := exec.IndexID()
	old := exec.Swap(fitted(t, "dog", "dog cat"))
	if old != first {
		t.Error("Swap should return the replaced engine")
	}
	if exec.IndexID() == oldID {
		t.Error("index id should change with the engine")
	}
	stats, err := exec.IndexStats()
	if err != nil || stats.Documents != 2 {
		t.Errorf("stats = %+v, %v", stats, err)
	}
}

func TestExecuteOn_PinnedEngine(t *testing.T) {
	first := fitted(t, "cat", "dog")
	exec := New(first, 0, nil)
	exec.Swap(fitted(t, "dog", "cat cat"))

	res, err := exec.ExecuteOn(context.Background(), first, "cat", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.IndexID != first.Fingerprint() || len(res.Results) != 1 || res.Results[0].DocIndex != 0 {
		t.Errorf("result = %+v, want document 0 of the pinned index", res)
	}
	if res, _ := exec.Execute(context.Background(), "cat", 1); res.IndexID == first.Fingerprint() {
		t.Error("Execute should use the swapped-in engine")
	}
}
