package index

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
)

// Index is a frozen in-memory inverted index. Nothing in it changes after
// Build or FromParts returns, so it may be read from many goroutines.
type Index struct {
	Dict       *Dictionary
	Postings   []PostingList
	DocLengths []uint32
	Stats      CorpusStats
}

// DocFreq is the number of documents containing the term.
func (idx *Index) DocFreq(termID uint32) int {
	return len(idx.Postings[termID])
}

func (idx *Index) DocCount() int {
	return idx.Stats.DocCount
}

// docTerms is the per-document result of the parallel counting phase.
type docTerms struct {
	terms  []string
	freqs  []uint32
	length uint32
}

// Build tokenizes docs and constructs the index. Counting runs on up to
// workers goroutines; the merge that assigns term IDs walks documents in
// order so the result does not depend on the worker count.
func Build(ctx context.Context, docs []string, tok tokenizer.Tokenizer, workers int) (*Index, error) {
	if len(docs) == 0 {
		return nil, apperrors.ErrEmptyCorpus
	}
	if uint64(len(docs)) >= math.MaxUint32 {
		return nil, apperrors.Invalidf("corpus of %d documents exceeds the 32-bit document ID space", len(docs))
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	counted := make([]docTerms, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			counted[i] = countTerms(tok.Tokenize(docs[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("counting terms: %w", err)
	}

	dict := newDictionary(len(docs))
	postings := make([]PostingList, 0, len(docs))
	docLengths := make([]uint32, len(docs))
	for docID, dt := range counted {
		docLengths[docID] = dt.length
		for i, term := range dt.terms {
			termID := dict.intern(term)
			if int(termID) == len(postings) {
				postings = append(postings, nil)
			}
			postings[termID] = append(postings[termID], Posting{
				DocID:     uint32(docID),
				Frequency: dt.freqs[i],
			})
		}
	}

	return &Index{
		Dict:       dict,
		Postings:   postings,
		DocLengths: docLengths,
		Stats:      newCorpusStats(docLengths),
	}, nil
}

// countTerms groups tokens by term, keeping first-occurrence order.
func countTerms(tokens []string) docTerms {
	dt := docTerms{length: uint32(len(tokens))}
	pos := make(map[string]int, len(tokens))
	for _, token := range tokens {
		if i, ok := pos[token]; ok {
			dt.freqs[i]++
			continue
		}
		pos[token] = len(dt.terms)
		dt.terms = append(dt.terms, token)
		dt.freqs = append(dt.freqs, 1)
	}
	return dt
}

// FromParts reassembles an index from decoded components, checking every
// structural invariant Build guarantees. Any violation is reported as
// ErrCorruptData.
func FromParts(terms []string, postings []PostingList, docLengths []uint32) (*Index, error) {
	if len(docLengths) == 0 {
		return nil, apperrors.Corruptf("index has no documents")
	}
	if len(terms) != len(postings) {
		return nil, apperrors.Corruptf("term count %d does not match posting list count %d", len(terms), len(postings))
	}
	dict := newDictionary(len(terms))
	for i, term := range terms {
		if id := dict.intern(term); int(id) != i {
			return nil, apperrors.Corruptf("duplicate term %q", term)
		}
	}
	numDocs := uint32(len(docLengths))
	for termID, list := range postings {
		if len(list) == 0 {
			return nil, apperrors.Corruptf("term %q has no postings", terms[termID])
		}
		for i, p := range list {
			if p.DocID >= numDocs {
				return nil, apperrors.Corruptf("term %q references document %d of %d", terms[termID], p.DocID, numDocs)
			}
			if p.Frequency == 0 || p.Frequency > docLengths[p.DocID] {
				return nil, apperrors.Corruptf("term %q has invalid frequency %d in document %d", terms[termID], p.Frequency, p.DocID)
			}
			if i > 0 && p.DocID <= list[i-1].DocID {
				return nil, apperrors.Corruptf("term %q postings are not strictly ascending", terms[termID])
			}
		}
	}
	return &Index{
		Dict:       dict,
		Postings:   postings,
		DocLengths: docLengths,
		Stats:      newCorpusStats(docLengths),
	}, nil
}
