package wand

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/blockmax"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/ranker"
)

// noMoreDocs is the doc ID of an exhausted cursor. Build rejects corpora
// large enough to contain it as a real document.
const noMoreDocs = math.MaxUint32

// boundSlack inflates upper bounds by a relative margin so that summing
// them in a different order than the exact score never rounds below it.
const boundSlack = 1 + 1e-9

// cursor walks one query term's posting list. pos is the current posting;
// blk is the block used for upper bounds and may run ahead of pos after a
// shallow move, never behind the block that contains the next candidate.
type cursor struct {
	postings index.PostingList
	blocks   []blockmax.Block
	idf      float64
	weight   float64
	listMax  float64
	pos      int
	blk      int
}

func newCursor(list index.PostingList, tb blockmax.TermBlocks, weight float64) *cursor {
	return &cursor{
		postings: list,
		blocks:   tb.Blocks,
		idf:      tb.IDF * weight,
		weight:   weight,
		listMax:  tb.MaxScore * weight * boundSlack,
	}
}

func (c *cursor) doc() uint32 {
	if c.pos >= len(c.postings) {
		return noMoreDocs
	}
	return c.postings[c.pos].DocID
}

func (c *cursor) next() {
	c.pos++
}

// shallow moves the block pointer to the first block that may contain
// target without touching the posting position.
func (c *cursor) shallow(target uint32) {
	for c.blk < len(c.blocks) && c.blocks[c.blk].Last < target {
		c.blk++
	}
}

// blockMax is the bound for the current block, 0 once past the last block.
func (c *cursor) blockMax() float64 {
	if c.blk >= len(c.blocks) {
		return 0
	}
	return c.blocks[c.blk].MaxScore * c.weight * boundSlack
}

// blockEnd is the first doc ID after the current block.
func (c *cursor) blockEnd() uint32 {
	if c.blk >= len(c.blocks) {
		return noMoreDocs
	}
	return c.blocks[c.blk].Last + 1
}

// advance moves to the first posting with DocID >= target, skipping whole
// blocks through their last doc IDs before searching inside one.
func (c *cursor) advance(target uint32) {
	if c.doc() >= target {
		return
	}
	c.shallow(target)
	if c.blk >= len(c.blocks) {
		c.pos = len(c.postings)
		return
	}
	blk := c.blocks[c.blk]
	lo := max(c.pos, blk.Start)
	c.pos = lo + sort.Search(blk.End-lo, func(i int) bool {
		return c.postings[lo+i].DocID >= target
	})
}

func (c *cursor) score(docLengths []uint32, s *ranker.Scorer) float64 {
	p := c.postings[c.pos]
	return s.TermScore(c.idf, p.Frequency, docLengths[p.DocID])
}
