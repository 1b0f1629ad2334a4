package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/errors"
)

// maxLine bounds a single document.
const maxLine = 64 << 20

// FileSource reads a local file. In the lines format every line is one
// document, blank lines included, and documents are numbered by position.
// In the jsonl format every non-blank line is an object
// {"id": <uint64>, "text": <string>}; ids must be given on all records or
// on none.
type FileSource struct {
	Path   string
	Format string
}

func (s *FileSource) Describe() string {
	return fmt.Sprintf("file %s (%s)", s.Path, s.Format)
}

func (s *FileSource) Load(ctx context.Context) (*Corpus, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, wrapLoad(s, fmt.Errorf("%w: %w", apperrors.ErrIO, err))
	}
	defer f.Close()
	c, err := Read(ctx, f, s.Format)
	if err != nil {
		return nil, wrapLoad(s, err)
	}
	return c, nil
}

// Read parses r in the given format.
func Read(ctx context.Context, r io.Reader, format string) (*Corpus, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var parse func(line string, lineNo int) error
	c := &Corpus{}
	switch format {
	case "", FormatLines:
		parse = func(line string, _ int) error {
			c.Texts = append(c.Texts, line)
			return nil
		}
	case FormatJSONL:
		withIDs := -1
		parse = func(line string, lineNo int) error {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			var rec struct {
				ID   *uint64 `json:"id"`
				Text *string `json:"text"`
			}
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return apperrors.Invalidf("line %d: %v", lineNo, err)
			}
			if rec.Text == nil {
				return apperrors.Invalidf("line %d: missing text", lineNo)
			}
			hasID := 0
			if rec.ID != nil {
				hasID = 1
			}
			if withIDs == -1 {
				withIDs = hasID
			} else if withIDs != hasID {
				return apperrors.Invalidf("line %d: ids must be set on every record or on none", lineNo)
			}
			c.Texts = append(c.Texts, *rec.Text)
			if rec.ID != nil {
				c.IDs = append(c.IDs, *rec.ID)
			}
			return nil
		}
	default:
		return nil, apperrors.Invalidf("unknown corpus format %q", format)
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := parse(strings.TrimSuffix(scanner.Text(), "\r"), lineNo); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading line %d: %w", apperrors.ErrIO, lineNo+1, err)
	}
	if err := checkIDs(c.IDs); err != nil {
		return nil, err
	}
	return c, nil
}
