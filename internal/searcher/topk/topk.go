// Package topk keeps the k best scored documents seen so far.
package topk

import (
	"container/heap"
	"sort"
)

// Result is one ranked document.
type Result struct {
	DocID uint32  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Less orders results best first: higher score, then lower document ID.
func Less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Heap is a bounded collection of the k best results. The worst retained
// result sits at the root so it can be compared and replaced in O(log k).
type Heap struct {
	k     int
	items resultHeap
}

// New returns a Heap that keeps at most k results. k <= 0 keeps everything.
func New(k int) *Heap {
	capacity := k
	if capacity <= 0 || capacity > 1024 {
		capacity = 1024
	}
	return &Heap{k: k, items: make(resultHeap, 0, capacity)}
}

func (h *Heap) Len() int { return len(h.items) }

func (h *Heap) Full() bool {
	return h.k > 0 && len(h.items) >= h.k
}

// Threshold is the score a new document has to beat to be retained, or 0
// while the heap still has room.
func (h *Heap) Threshold() float64 {
	if !h.Full() {
		return 0
	}
	return h.items[0].Score
}

// Push offers r and reports whether it was retained.
func (h *Heap) Push(r Result) bool {
	if !h.Full() {
		heap.Push(&h.items, r)
		return true
	}
	if !Less(r, h.items[0]) {
		return false
	}
	h.items[0] = r
	heap.Fix(&h.items, 0)
	return true
}

// Sorted drains the heap and returns its results best first.
func (h *Heap) Sorted() []Result {
	out := make([]Result, len(h.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h.items).(Result)
	}
	return out
}

// Select returns the k best entries of a dense score vector, ignoring
// documents whose score is not positive. k <= 0 ranks every such document.
func Select(scores []float64, k int) []Result {
	if k > 0 {
		h := New(k)
		for docID, score := range scores {
			if score > 0 {
				h.Push(Result{DocID: uint32(docID), Score: score})
			}
		}
		return h.Sorted()
	}
	out := make([]Result, 0)
	for docID, score := range scores {
		if score > 0 {
			out = append(out, Result{DocID: uint32(docID), Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// resultHeap is a min-heap on result quality.
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool { return Less(h[j], h[i]) }

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x interface{}) {
	*h = append(*h, x.(Result))
}

func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
