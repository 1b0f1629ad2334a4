// Package indexer ties the BM25 pipeline together. An Engine fits a corpus
// into an immutable snapshot (inverted index, block-max bounds and scorer),
// answers top-k and exhaustive queries against it, and saves or loads it.
package indexer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/blockmax"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/wand"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
)

// Hit is one ranked document. DocIndex is the position of the document in
// the fitted corpus; ID is its external ID, or DocIndex when none was given.
type Hit struct {
	DocIndex uint32  `json:"doc_index"`
	ID       uint64  `json:"id"`
	Score    float64 `json:"score"`
}

// QueryResult is a ranked answer together with what the query resolved to.
type QueryResult struct {
	Hits  []Hit      `json:"hits"`
	Terms []string   `json:"terms"`
	Stats wand.Stats `json:"stats"`
}

// IndexStats describes the active snapshot.
type IndexStats struct {
	Documents    int     `json:"documents"`
	Terms        int     `json:"terms"`
	Postings     int     `json:"postings"`
	Blocks       int     `json:"blocks"`
	TotalLength  uint64  `json:"total_length"`
	AvgDocLength float64 `json:"avg_doc_length"`
	K1           float64 `json:"k1"`
	B            float64 `json:"b"`
	Lowercase    bool    `json:"lowercase"`
	BlockSize    int     `json:"block_size"`
	Tokenizer    string  `json:"tokenizer"`
	ExternalIDs  bool    `json:"external_ids"`
	Fingerprint  string  `json:"fingerprint"`
}

// Engine is safe for concurrent use. Queries read whichever snapshot is
// current when they start and never block; Fit and Load install a complete
// new snapshot in one atomic store.
type Engine struct {
	cfg         Config
	tok         tokenizer.Tokenizer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	compression segment.Compression
	state       atomic.Pointer[snapshot]
}

type snapshot struct {
	idx         *index.Index
	scorer      *ranker.Scorer
	blocks      *blockmax.Structure
	searcher    *wand.Searcher
	externalIDs []uint64
	fingerprint string
}

// New validates cfg and returns an Engine with no index. Queries fail with
// ErrNotReady until Fit or Load succeeds.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	tok := o.tokenizer
	if tok == nil {
		named, err := tokenizer.ByName(cfg.Tokenizer)
		if err != nil {
			return nil, apperrors.Invalidf("%v", err)
		}
		tok = named
	}
	tok = tokenizer.Normalize(tok, cfg.Lowercase)
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		tok:         tok,
		logger:      logger.With("component", "engine"),
		metrics:     o.metrics,
		compression: o.compression,
	}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Ready reports whether an index has been fitted or loaded.
func (e *Engine) Ready() bool {
	return e.state.Load() != nil
}

// Fingerprint is the hex BLAKE3 digest of the active index contents, or ""
// before Fit or Load.
func (e *Engine) Fingerprint() string {
	if snap := e.state.Load(); snap != nil {
		return snap.fingerprint
	}
	return ""
}

// Fit indexes docs. Document i gets DocIndex i.
func (e *Engine) Fit(ctx context.Context, docs []string) error {
	return e.FitWithIDs(ctx, docs, nil)
}

// FitWithIDs indexes docs and reports ids[i] as the ID of document i. A nil
// ids uses positions. On failure the previous snapshot stays active.
func (e *Engine) FitWithIDs(ctx context.Context, docs []string, ids []uint64) error {
	if ids != nil && len(ids) != len(docs) {
		return apperrors.Invalidf("got %d ids for %d documents", len(ids), len(docs))
	}
	start := time.Now()
	idx, err := index.Build(ctx, docs, e.tok, e.cfg.Workers)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	if ids != nil {
		ids = append([]uint64(nil), ids...)
	}
	digest, err := segment.Fingerprint(&segment.Image{
		Settings:    e.cfg.settings(),
		Index:       idx,
		ExternalIDs: ids,
	})
	if err != nil {
		return fmt.Errorf("fingerprinting index: %w", err)
	}
	snap := e.install(idx, ids, digest)
	elapsed := time.Since(start)

	if m := e.metrics; m != nil {
		m.FitDuration.Observe(elapsed.Seconds())
		m.DocsIndexedTotal.Add(float64(len(docs)))
	}
	e.logger.Info("index fitted",
		"documents", idx.DocCount(),
		"terms", idx.Dict.Len(),
		"blocks", snap.blocks.NumBlocks(),
		"avg_doc_length", idx.Stats.AvgDocLength,
		"duration_ms", elapsed.Milliseconds(),
	)
	return nil
}

// install derives the query-time structures from idx and makes them current.
func (e *Engine) install(idx *index.Index, ids []uint64, digest [segment.DigestSize]byte) *snapshot {
	scorer := ranker.NewScorer(e.cfg.params(), idx.Stats)
	blocks := blockmax.Build(idx, scorer, e.cfg.BlockSize)
	snap := &snapshot{
		idx:         idx,
		scorer:      scorer,
		blocks:      blocks,
		searcher:    wand.New(idx, blocks, scorer),
		externalIDs: ids,
		fingerprint: hex.EncodeToString(digest[:]),
	}
	e.state.Store(snap)
	if m := e.metrics; m != nil {
		m.IndexDocuments.Set(float64(idx.DocCount()))
		m.IndexTerms.Set(float64(idx.Dict.Len()))
	}
	return snap
}

// Parse tokenizes query exactly as Search does.
func (e *Engine) Parse(query string) *parser.QueryPlan {
	return parser.Parse(query, e.tok)
}

// Search returns the topK best documents for query, best first, ties broken
// by ascending DocIndex. Only documents with a positive score are returned.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, apperrors.Invalidf("top_k must be positive, got %d", topK)
	}
	res, err := e.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.Hits, nil
}

// SearchAll ranks every document with a positive score.
func (e *Engine) SearchAll(ctx context.Context, query string) ([]Hit, error) {
	res, err := e.Query(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	return res.Hits, nil
}

// Query is Search with the resolved terms and pruning statistics attached.
// k <= 0 ranks every matching document.
func (e *Engine) Query(ctx context.Context, query string, k int) (*QueryResult, error) {
	snap := e.state.Load()
	if snap == nil {
		return nil, apperrors.ErrNotReady
	}
	plan := e.Parse(query)
	terms, matched := snap.resolve(plan)
	if len(terms) == 0 {
		return &QueryResult{Hits: []Hit{}, Terms: matched}, nil
	}
	results, stats, err := snap.searcher.Search(ctx, terms, k)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return nil, err
	}
	if m := e.metrics; m != nil && k > 0 {
		m.WANDDocsEvaluated.Observe(float64(stats.Evaluated))
		m.WANDBlockSkips.Observe(float64(stats.BlockSkips))
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{DocIndex: r.DocID, ID: snap.id(r.DocID), Score: r.Score}
	}
	return &QueryResult{Hits: hits, Terms: matched, Stats: stats}, nil
}

// GetScores returns the exact BM25 score of every document, indexed by
// DocIndex, without pruning.
func (e *Engine) GetScores(ctx context.Context, query string) ([]float64, error) {
	snap := e.state.Load()
	if snap == nil {
		return nil, apperrors.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms, _ := snap.resolve(e.Parse(query))
	if len(terms) == 0 {
		return make([]float64, snap.idx.DocCount()), nil
	}
	return snap.searcher.Scores(terms), nil
}

// Stats describes the active index.
func (e *Engine) Stats() (IndexStats, error) {
	snap := e.state.Load()
	if snap == nil {
		return IndexStats{}, apperrors.ErrNotReady
	}
	postings := 0
	for _, list := range snap.idx.Postings {
		postings += len(list)
	}
	return IndexStats{
		Documents:    snap.idx.DocCount(),
		Terms:        snap.idx.Dict.Len(),
		Postings:     postings,
		Blocks:       snap.blocks.NumBlocks(),
		TotalLength:  snap.idx.Stats.TotalLength,
		AvgDocLength: snap.idx.Stats.AvgDocLength,
		K1:           e.cfg.K1,
		B:            e.cfg.B,
		Lowercase:    e.cfg.Lowercase,
		BlockSize:    e.cfg.BlockSize,
		Tokenizer:    e.cfg.Tokenizer,
		ExternalIDs:  snap.externalIDs != nil,
		Fingerprint:  snap.fingerprint,
	}, nil
}

// resolve maps plan terms to dictionary IDs. Terms the corpus never saw are
// dropped since they score zero everywhere.
func (s *snapshot) resolve(plan *parser.QueryPlan) ([]wand.Term, []string) {
	terms := make([]wand.Term, 0, len(plan.Terms))
	matched := make([]string, 0, len(plan.Terms))
	for i, term := range plan.Terms {
		id, ok := s.idx.Dict.Lookup(term)
		if !ok {
			continue
		}
		terms = append(terms, wand.Term{ID: id, Weight: plan.Weights[i]})
		matched = append(matched, term)
	}
	return terms, matched
}

func (s *snapshot) id(docID uint32) uint64 {
	if s.externalIDs == nil {
		return uint64(docID)
	}
	return s.externalIDs[docID]
}
