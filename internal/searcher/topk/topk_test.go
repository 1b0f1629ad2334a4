package topk

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func TestHeap_KeepsBest(t *testing.T) {
	h := New(3)
	for i, score := range []float64{1, 5, 3, 5, 2, 4} {
		h.Push(Result{DocID: uint32(i), Score: score})
	}
	got := h.Sorted()
	want := []Result{{DocID: 1, Score: 5}, {DocID: 3, Score: 5}, {DocID: 5, Score: 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sorted = %v, want %v", got, want)
	}
}

func TestHeap_Threshold(t *testing.T) {
	h := New(2)
	if h.Threshold() != 0 {
		t.Fatal("threshold of non-full heap must be 0")
	}
	h.Push(Result{DocID: 0, Score: 2})
	h.Push(Result{DocID: 1, Score: 7})
	if h.Threshold() != 2 {
		t.Fatalf("threshold = %f, want 2", h.Threshold())
	}
	if h.Push(Result{DocID: 2, Score: 2}) {
		t.Error("a tie with a higher doc ID must not displace the k-th result")
	}
	if !h.Push(Result{DocID: 3, Score: 3}) {
		t.Error("a better score must be retained")
	}
	if h.Threshold() != 3 {
		t.Fatalf("threshold = %f, want 3", h.Threshold())
	}
}

func TestSelect_MatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	scores := make([]float64, 200)
	for i := range scores {
		if rng.Intn(3) > 0 {
			scores[i] = float64(rng.Intn(20))
		}
	}
	full := Select(scores, 0)
	if !sort.SliceIsSorted(full, func(i, j int) bool { return Less(full[i], full[j]) }) {
		t.Fatal("full ranking is not sorted")
	}
	for _, r := range full {
		if r.Score <= 0 {
			t.Fatalf("non-positive score %v in ranking", r)
		}
	}
	for k := 1; k <= len(full)+5; k++ {
		got := Select(scores, k)
		want := full[:min(k, len(full))]
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("k=%d: got %v, want %v", k, got, want)
		}
	}
}
