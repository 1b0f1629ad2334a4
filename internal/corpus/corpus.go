// Package corpus loads the documents an index is fitted on.
package corpus

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/postgres"
)

// Corpus is an ordered document collection. IDs is either nil or holds the
// external ID of each text.
type Corpus struct {
	Texts []string
	IDs   []uint64
}

func (c *Corpus) Len() int {
	return len(c.Texts)
}

// Source produces a Corpus.
type Source interface {
	Load(ctx context.Context) (*Corpus, error)
	// Describe names the source in logs and events.
	Describe() string
}

const (
	FormatLines = "lines"
	FormatJSONL = "jsonl"
)

// FromConfig builds the source named by cfg. db is only used by the
// postgres source and may be nil otherwise.
func FromConfig(cfg config.CorpusConfig, db *postgres.Client) (Source, error) {
	switch cfg.Source {
	case "file":
		return &FileSource{Path: cfg.Path, Format: cfg.Format}, nil
	case "postgres":
		if db == nil {
			return nil, apperrors.Invalidf("postgres corpus source needs a database connection")
		}
		return &PostgresSource{DB: db.DB, Query: cfg.Query}, nil
	default:
		return nil, apperrors.Invalidf("unknown corpus source %q", cfg.Source)
	}
}

// checkIDs rejects repeated external IDs.
func checkIDs(ids []uint64) error {
	seen := make(map[uint64]struct{}, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return apperrors.Invalidf("document %d repeats id %d", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func wrapLoad(src Source, err error) error {
	return fmt.Errorf("loading corpus from %s: %w", src.Describe(), err)
}
