// Package parser turns raw query text into the weighted term list the BM25
// engine scores. There are no operators: every term contributes, and a term
// that appears several times contributes that many times.
package parser

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
)

// QueryPlan is a tokenized query. Terms are distinct and in order of first
// occurrence; Weights[i] is how often Terms[i] occurred.
type QueryPlan struct {
	RawQuery string
	Terms    []string
	Weights  []float64
}

func Parse(query string, tok tokenizer.Tokenizer) *QueryPlan {
	plan := &QueryPlan{
		RawQuery: query,
		Terms:    make([]string, 0),
		Weights:  make([]float64, 0),
	}
	if strings.TrimSpace(query) == "" {
		return plan
	}
	pos := make(map[string]int)
	for _, term := range tok.Tokenize(query) {
		if i, seen := pos[term]; seen {
			plan.Weights[i]++
			continue
		}
		pos[term] = len(plan.Terms)
		plan.Terms = append(plan.Terms, term)
		plan.Weights = append(plan.Weights, 1)
	}
	return plan
}

func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// Key is a canonical form of the plan. Two queries with the same key score
// identically. Term order is kept because scores are summed in that order.
func (p *QueryPlan) Key() string {
	var sb strings.Builder
	for i, term := range p.Terms {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Quote(term))
		if p.Weights[i] != 1 {
			sb.WriteByte('^')
			sb.WriteString(strconv.FormatFloat(p.Weights[i], 'g', -1, 64))
		}
	}
	return sb.String()
}
