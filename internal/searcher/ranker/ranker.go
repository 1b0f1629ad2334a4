// Package ranker implements Okapi BM25 with the non-negative IDF variant.
package ranker

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Params are the BM25 free parameters.
type Params struct {
	K1 float64 `json:"k1"`
	B  float64 `json:"b"`
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// Scorer evaluates BM25 against fixed corpus statistics. The length
// normalisation terms are folded in once so TermScore is a handful of flops.
type Scorer struct {
	params    Params
	totalDocs float64
	k1Plus1   float64
	k1MinusB  float64
	k1BOverDL float64
}

func NewScorer(params Params, stats index.CorpusStats) *Scorer {
	s := &Scorer{
		params:    params,
		totalDocs: float64(stats.DocCount),
		k1Plus1:   params.K1 + 1,
		k1MinusB:  params.K1 * (1 - params.B),
	}
	// An all-empty corpus has avgdl 0; every document then has length 0 as
	// well, so the length ratio is taken as 0 instead of 0/0.
	if stats.AvgDocLength > 0 {
		s.k1BOverDL = params.K1 * params.B / stats.AvgDocLength
	}
	return s
}

func (s *Scorer) Params() Params {
	return s.params
}

// IDF returns ln((N - df + 0.5) / (df + 0.5) + 1), which is never negative
// for df in [0, N].
func (s *Scorer) IDF(docFreq int) float64 {
	return ComputeIDF(s.totalDocs, float64(docFreq))
}

// TermScore is the contribution of one term with the given idf to a
// document of length docLen in which it occurs freq times.
func (s *Scorer) TermScore(idf float64, freq, docLen uint32) float64 {
	tf := float64(freq)
	return idf * tf * s.k1Plus1 / (tf + s.k1MinusB + s.k1BOverDL*float64(docLen))
}

func ComputeIDF(totalDocs, docFreq float64) float64 {
	return math.Log((totalDocs-docFreq+0.5)/(docFreq+0.5) + 1)
}

// ClassicIDF is the unmodified Robertson–Sparck Jones weight. It goes
// negative for terms in more than half the corpus; it is only used to check
// that the non-negative variant ranks documents the same way.
func ClassicIDF(totalDocs, docFreq float64) float64 {
	return math.Log((totalDocs - docFreq + 0.5) / (docFreq + 0.5))
}

// ScoreAll computes the exact BM25 score of every document for the given
// query terms. weights[i] multiplies the contribution of termIDs[i] and
// lets repeated query terms count once per repetition.
func ScoreAll(idx *index.Index, s *Scorer, termIDs []uint32, weights []float64) []float64 {
	scores := make([]float64, idx.DocCount())
	for i, termID := range termIDs {
		idf := s.IDF(idx.DocFreq(termID)) * weights[i]
		for _, p := range idx.Postings[termID] {
			scores[p.DocID] += s.TermScore(idf, p.Frequency, idx.DocLengths[p.DocID])
		}
	}
	return scores
}
