// Package blockmax precomputes, for every posting list, fixed-size blocks and
// the largest BM25 contribution any posting inside each block can make.
// Block-Max WAND uses these bounds to skip whole blocks of documents.
package blockmax

import (
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/ranker"
)

// DefaultBlockSize matches the block width the engine has always used.
const DefaultBlockSize = 128

// Block covers postings[Start:End] of one term. First and Last are the doc
// IDs of its first and last posting.
type Block struct {
	First    uint32
	Last     uint32
	Start    int
	End      int
	MaxScore float64
}

// TermBlocks holds the block metadata for one term. MaxScore is the largest
// block maximum, i.e. the bound for the whole list.
type TermBlocks struct {
	IDF      float64
	MaxScore float64
	Blocks   []Block
}

// Structure is the block-max metadata for a whole index, addressed by term ID.
type Structure struct {
	BlockSize int
	Terms     []TermBlocks
}

// Build partitions every posting list into blocks of at most blockSize
// postings. Each block bound is the exact maximum of the per-posting score,
// evaluated with the same Scorer the query engine uses, so it can never be
// below a score produced inside the block.
func Build(idx *index.Index, scorer *ranker.Scorer, blockSize int) *Structure {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	s := &Structure{
		BlockSize: blockSize,
		Terms:     make([]TermBlocks, len(idx.Postings)),
	}
	for termID, list := range idx.Postings {
		s.Terms[termID] = buildTerm(list, idx.DocLengths, scorer, scorer.IDF(len(list)), blockSize)
	}
	return s
}

func buildTerm(list index.PostingList, docLengths []uint32, scorer *ranker.Scorer, idf float64, blockSize int) TermBlocks {
	tb := TermBlocks{
		IDF:    idf,
		Blocks: make([]Block, 0, (len(list)+blockSize-1)/blockSize),
	}
	for start := 0; start < len(list); start += blockSize {
		end := min(start+blockSize, len(list))
		blk := Block{
			First: list[start].DocID,
			Last:  list[end-1].DocID,
			Start: start,
			End:   end,
		}
		for _, p := range list[start:end] {
			if score := scorer.TermScore(idf, p.Frequency, docLengths[p.DocID]); score > blk.MaxScore {
				blk.MaxScore = score
			}
		}
		if blk.MaxScore > tb.MaxScore {
			tb.MaxScore = blk.MaxScore
		}
		tb.Blocks = append(tb.Blocks, blk)
	}
	return tb
}

// NumBlocks is the total block count across all terms.
func (s *Structure) NumBlocks() int {
	n := 0
	for _, tb := range s.Terms {
		n += len(tb.Blocks)
	}
	return n
}
