package indexer

import (
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/segment"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
)

// Save writes the active index to path atomically. The previous file, if
// any, is only replaced once the new one is fully on disk.
func (e *Engine) Save(path string) error {
	snap := e.state.Load()
	if snap == nil {
		return apperrors.ErrNotReady
	}
	start := time.Now()
	header, err := segment.WriteFile(path, &segment.Image{
		Settings:    e.cfg.settings(),
		Index:       snap.idx,
		ExternalIDs: snap.externalIDs,
	}, e.compression)
	e.recordPersist("save", err)
	if err != nil {
		e.logger.Error("index save failed", "path", path, "error", err)
		return fmt.Errorf("saving index to %s: %w", path, err)
	}
	e.logger.Info("index saved",
		"path", path,
		"compression", header.Compression.String(),
		"payload_bytes", header.PayloadSize,
		"raw_bytes", header.RawPayloadSize,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Load reads an index saved by Save. Model parameters come from the file;
// opts supply what is not persisted, such as a custom tokenizer, logger or
// metrics. Block-max bounds are recomputed, so queries against the loaded
// engine score identically to the engine that saved it.
func Load(path string, opts ...Option) (*Engine, error) {
	start := time.Now()
	img, header, err := segment.ReadFile(path)
	if err != nil {
		loadFailed(opts, err)
		return nil, fmt.Errorf("loading index from %s: %w", path, err)
	}
	cfg := Config{
		K1:        img.Settings.K1,
		B:         img.Settings.B,
		Lowercase: img.Settings.Lowercase,
		BlockSize: img.Settings.BlockSize,
		Tokenizer: img.Settings.Tokenizer,
	}
	e, err := New(cfg, opts...)
	if err != nil {
		loadFailed(opts, err)
		return nil, fmt.Errorf("index %s was built with tokenizer %q: %w", path, cfg.Tokenizer, err)
	}
	e.install(img.Index, img.ExternalIDs, header.Digest)
	e.recordPersist("load", nil)
	e.logger.Info("index loaded",
		"path", path,
		"documents", img.Index.DocCount(),
		"terms", img.Index.Dict.Len(),
		"compression", header.Compression.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return e, nil
}

func (e *Engine) recordPersist(op string, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexPersistTotal.WithLabelValues(op, persistStatus(err)).Inc()
}

// loadFailed records a failed load before any Engine exists.
func loadFailed(opts []Option, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics != nil {
		o.metrics.IndexPersistTotal.WithLabelValues("load", persistStatus(err)).Inc()
	}
}

func persistStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrCorruptData):
		return "corrupt"
	case errors.Is(err, apperrors.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, apperrors.ErrIO):
		return "io_error"
	default:
		return "error"
	}
}
