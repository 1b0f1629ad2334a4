package indexer

import (
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/blockmax"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/metrics"
)

// Config holds the parameters fixed for the lifetime of an index. Everything
// except Workers is saved with the index.
type Config struct {
	K1        float64
	B         float64
	Lowercase bool
	BlockSize int
	Tokenizer string
	// Workers bounds term-counting parallelism during Fit. Zero means
	// GOMAXPROCS.
	Workers int
}

func DefaultConfig() Config {
	p := ranker.DefaultParams()
	return Config{
		K1:        p.K1,
		B:         p.B,
		BlockSize: blockmax.DefaultBlockSize,
		Tokenizer: tokenizer.NameUnicode,
	}
}

// ConfigFrom maps the bm25 section of the service configuration.
func ConfigFrom(c config.BM25Config) Config {
	return Config{
		K1:        c.K1,
		B:         c.B,
		Lowercase: c.Lowercase,
		BlockSize: c.BlockSize,
		Tokenizer: c.Tokenizer,
		Workers:   c.Workers,
	}
}

func (c Config) Validate() error {
	if !(c.K1 >= 0) {
		return apperrors.Invalidf("k1 must be non-negative, got %v", c.K1)
	}
	if !(c.B >= 0 && c.B <= 1) {
		return apperrors.Invalidf("b must be in [0, 1], got %v", c.B)
	}
	if c.BlockSize < 1 {
		return apperrors.Invalidf("block size must be positive, got %d", c.BlockSize)
	}
	return nil
}

func (c Config) params() ranker.Params {
	return ranker.Params{K1: c.K1, B: c.B}
}

func (c Config) settings() segment.Settings {
	return segment.Settings{
		K1:        c.K1,
		B:         c.B,
		Lowercase: c.Lowercase,
		Tokenizer: c.Tokenizer,
		BlockSize: c.BlockSize,
	}
}

// Option customizes an Engine.
type Option func(*options)

type options struct {
	tokenizer   tokenizer.Tokenizer
	logger      *slog.Logger
	metrics     *metrics.Metrics
	compression segment.Compression
}

// WithTokenizer replaces the analyzer named in Config. Config.Tokenizer is
// still what gets saved, so an index built with a custom tokenizer has to be
// loaded with the same option.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records fit, query and persistence metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCompression selects how Save packs the payload.
func WithCompression(c segment.Compression) Option {
	return func(o *options) { o.compression = c }
}
