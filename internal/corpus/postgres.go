package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PostgresSource runs Query and reads (id, text) rows in the order returned.
type PostgresSource struct {
	DB    *sql.DB
	Query string
}

func (s *PostgresSource) Describe() string {
	return "postgres"
}

func (s *PostgresSource) Load(ctx context.Context) (*Corpus, error) {
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, wrapLoad(s, fmt.Errorf("querying documents: %w", err))
	}
	defer rows.Close()

	c := &Corpus{}
	for rows.Next() {
		var (
			id   int64
			text sql.NullString
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, wrapLoad(s, fmt.Errorf("scanning document row %d: %w", len(c.Texts), err))
		}
		if id < 0 {
			return nil, wrapLoad(s, fmt.Errorf("document row %d has negative id %d", len(c.Texts), id))
		}
		c.Texts = append(c.Texts, text.String)
		c.IDs = append(c.IDs, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapLoad(s, fmt.Errorf("iterating document rows: %w", err))
	}
	if err := checkIDs(c.IDs); err != nil {
		return nil, wrapLoad(s, err)
	}
	slog.Default().With("component", "corpus").Info("documents loaded", "source", s.Describe(), "count", c.Len())
	return c, nil
}
