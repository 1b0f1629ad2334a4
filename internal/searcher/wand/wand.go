// Package wand runs Block-Max WAND top-k retrieval over a frozen index.
//
// Each query term gets a cursor over its posting list. Cursors are kept
// ordered by current document; the pivot is the first cursor at which the
// summed list bounds exceed the current k-th best score. Block bounds of the
// cursors up to the pivot then decide whether the pivot document is worth
// scoring or whether every cursor can jump past the shortest of the current
// blocks. Scores are summed in query-term order so they are bit-identical to
// the exhaustive scorer.
package wand

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/blockmax"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/topk"
)

// checkEvery is how many loop iterations pass between context checks.
const checkEvery = 1024

// Term is a query term resolved against the dictionary. Weight is the
// number of times the term occurs in the query.
type Term struct {
	ID     uint32
	Weight float64
}

// Stats describe the work one query did.
type Stats struct {
	Terms      int `json:"terms"`
	Evaluated  int `json:"evaluated"`
	BlockSkips int `json:"block_skips"`
	Postings   int `json:"postings"`
}

// Searcher holds the read-only structures a query needs. It keeps no
// per-query state and is safe for concurrent use.
type Searcher struct {
	idx    *index.Index
	blocks *blockmax.Structure
	scorer *ranker.Scorer
}

func New(idx *index.Index, blocks *blockmax.Structure, scorer *ranker.Scorer) *Searcher {
	return &Searcher{idx: idx, blocks: blocks, scorer: scorer}
}

// Search returns the k best documents by BM25 score, best first, ties
// broken by ascending document ID. k <= 0 returns every document with a
// positive score. Only a cancelled or expired ctx makes it fail.
func (s *Searcher) Search(ctx context.Context, terms []Term, k int) ([]topk.Result, Stats, error) {
	stats := Stats{Terms: len(terms)}
	byQuery := make([]*cursor, 0, len(terms))
	for _, t := range terms {
		list := s.idx.Postings[t.ID]
		stats.Postings += len(list)
		byQuery = append(byQuery, newCursor(list, s.blocks.Terms[t.ID], t.Weight))
	}
	results := topk.New(k)
	if len(byQuery) == 0 {
		return results.Sorted(), stats, nil
	}

	cursors := make([]*cursor, len(byQuery))
	copy(cursors, byQuery)
	docLengths := s.idx.DocLengths
	threshold := 0.0

	for iter := 0; ; iter++ {
		if iter%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		sortByDoc(cursors)

		pivot := findPivot(cursors, threshold)
		if pivot < 0 {
			break
		}
		pivotDoc := cursors[pivot].doc()
		for pivot+1 < len(cursors) && cursors[pivot+1].doc() == pivotDoc {
			pivot++
		}

		bound := 0.0
		for _, c := range cursors[:pivot+1] {
			c.shallow(pivotDoc)
			bound += c.blockMax()
		}

		if bound <= threshold {
			stats.BlockSkips++
			target := nextCandidate(cursors, pivot, pivotDoc)
			for _, c := range cursors[:pivot+1] {
				c.advance(target)
			}
			continue
		}

		if cursors[0].doc() != pivotDoc {
			// Documents before pivotDoc cannot reach the threshold.
			for _, c := range cursors[:pivot] {
				c.advance(pivotDoc)
			}
			continue
		}

		score := 0.0
		for _, c := range byQuery {
			if c.doc() == pivotDoc {
				score += c.score(docLengths, s.scorer)
			}
		}
		stats.Evaluated++
		if score > 0 && results.Push(topk.Result{DocID: pivotDoc, Score: score}) {
			threshold = results.Threshold()
		}
		for _, c := range cursors[:pivot+1] {
			c.next()
		}
	}
	return results.Sorted(), stats, nil
}

// Scores returns the exact score of every document without any pruning.
func (s *Searcher) Scores(terms []Term) []float64 {
	ids := make([]uint32, len(terms))
	weights := make([]float64, len(terms))
	for i, t := range terms {
		ids[i] = t.ID
		weights[i] = t.Weight
	}
	return ranker.ScoreAll(s.idx, s.scorer, ids, weights)
}

// findPivot returns the index of the first cursor at which the running sum
// of list bounds exceeds threshold, or -1 if no remaining document can.
func findPivot(cursors []*cursor, threshold float64) int {
	acc := 0.0
	for i, c := range cursors {
		if c.doc() == noMoreDocs {
			return -1
		}
		acc += c.listMax
		if acc > threshold {
			return i
		}
	}
	return -1
}

// nextCandidate is the smallest document that might beat the threshold
// after the current blocks of cursors[:pivot+1] were found too weak: the
// first document past any of those blocks, or the next cursor's document.
func nextCandidate(cursors []*cursor, pivot int, pivotDoc uint32) uint32 {
	target := uint32(noMoreDocs)
	if pivot+1 < len(cursors) {
		target = cursors[pivot+1].doc()
	}
	for _, c := range cursors[:pivot+1] {
		target = min(target, c.blockEnd())
	}
	if target <= pivotDoc {
		target = pivotDoc + 1
	}
	return target
}

// sortByDoc is an insertion sort; queries have few terms and the order
// changes little between iterations.
func sortByDoc(cursors []*cursor) {
	for i := 1; i < len(cursors); i++ {
		c := cursors[i]
		d := c.doc()
		j := i - 1
		for j >= 0 && cursors[j].doc() > d {
			cursors[j+1] = cursors[j]
			j--
		}
		cursors[j+1] = c
	}
}
