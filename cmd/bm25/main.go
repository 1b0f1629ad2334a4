// Command bm25 builds and queries index files locally, without any of the
// services.
//
// Usage:
//
//	bm25 index  --corpus docs.txt [--format lines|jsonl] --output index.bm25 [--k1 1.5 --b 0.75 ...]
//	bm25 search --index index.bm25 [-k 10 | --all] [--json] <query>
//	bm25 scores --index index.bm25 [--json] <query>
//	bm25 stats  --index index.bm25
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/blockmax-search/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

var commands = map[string]command{
	"index":  {"fit an index over a corpus file and save it", runIndex},
	"search": {"print the best documents for a query", runSearch},
	"scores": {"print the score of every document for a query", runScores},
	"stats":  {"describe a saved index", runStats},
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(out)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(ctx, args[1:], out)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: bm25 <command> [flags]")
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range []string{"index", "search", "scores", "stats"} {
		fmt.Fprintf(tw, "  %s\t%s\n", name, commands[name].summary)
	}
	tw.Flush()
}

// newFlagSet adds the flags every command shares.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flags := pflag.NewFlagSet("bm25 "+name, pflag.ContinueOnError)
	logLevel := flags.String("log-level", "warn", "log level: debug, info, warn or error")
	return flags, logLevel
}

func parse(flags *pflag.FlagSet, logLevel *string, args []string) error {
	if err := flags.Parse(args); err != nil {
		return err
	}
	logger.SetupWriter(os.Stderr, *logLevel, "text")
	return nil
}

func runIndex(ctx context.Context, args []string, out io.Writer) error {
	flags, logLevel := newFlagSet("index")
	defaults := indexer.DefaultConfig()
	corpusPath := flags.String("corpus", "", "corpus file (required)")
	format := flags.String("format", corpus.FormatLines, "corpus format: lines or jsonl")
	output := flags.StringP("output", "o", "index.bm25", "index file to write")
	k1 := flags.Float64("k1", defaults.K1, "term-frequency saturation")
	b := flags.Float64("b", defaults.B, "length normalisation in [0, 1]")
	lowercase := flags.Bool("lowercase", false, "fold terms to lower case")
	blockSize := flags.Int("block-size", defaults.BlockSize, "postings per block-max block")
	tok := flags.String("tokenizer", defaults.Tokenizer, "tokenizer: unicode or english")
	workers := flags.Int("workers", 0, "indexing goroutines (0 = GOMAXPROCS)")
	compression := flags.String("compression", "zstd", "payload compression: none, lz4 or zstd")
	if err := parse(flags, logLevel, args); err != nil {
		return err
	}
	if *corpusPath == "" {
		return errors.New("--corpus is required")
	}
	comp, err := segment.ParseCompression(*compression)
	if err != nil {
		return err
	}

	docs, err := (&corpus.FileSource{Path: *corpusPath, Format: *format}).Load(ctx)
	if err != nil {
		return err
	}
	engine, err := indexer.New(indexer.Config{
		K1:        *k1,
		B:         *b,
		Lowercase: *lowercase,
		BlockSize: *blockSize,
		Tokenizer: *tok,
		Workers:   *workers,
	}, indexer.WithCompression(comp))
	if err != nil {
		return err
	}
	start := time.Now()
	if err := engine.FitWithIDs(ctx, docs.Texts, docs.IDs); err != nil {
		return err
	}
	if err := engine.Save(*output); err != nil {
		return err
	}
	stats, err := engine.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "indexed %d documents, %d terms in %v\nwrote %s (index %s)\n",
		stats.Documents, stats.Terms, time.Since(start).Round(time.Millisecond), *output, stats.Fingerprint)
	return nil
}

func runSearch(ctx context.Context, args []string, out io.Writer) error {
	flags, logLevel := newFlagSet("search")
	indexPath := flags.StringP("index", "i", "index.bm25", "index file")
	k := flags.IntP("top-k", "k", 10, "number of results")
	all := flags.Bool("all", false, "rank every matching document")
	asJSON := flags.Bool("json", false, "print JSON")
	if err := parse(flags, logLevel, args); err != nil {
		return err
	}
	query := strings.Join(flags.Args(), " ")
	engine, err := indexer.Load(*indexPath)
	if err != nil {
		return err
	}
	var hits []indexer.Hit
	if *all {
		hits, err = engine.SearchAll(ctx, query)
	} else {
		hits, err = engine.Search(ctx, query, *k)
	}
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, hits)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tDOC\tSCORE")
	for i, h := range hits {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%.6f\n", i+1, h.ID, h.DocIndex, h.Score)
	}
	return tw.Flush()
}

func runScores(ctx context.Context, args []string, out io.Writer) error {
	flags, logLevel := newFlagSet("scores")
	indexPath := flags.StringP("index", "i", "index.bm25", "index file")
	asJSON := flags.Bool("json", false, "print JSON")
	if err := parse(flags, logLevel, args); err != nil {
		return err
	}
	engine, err := indexer.Load(*indexPath)
	if err != nil {
		return err
	}
	scores, err := engine.GetScores(ctx, strings.Join(flags.Args(), " "))
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(out, scores)
	}
	for i, s := range scores {
		fmt.Fprintf(out, "%d\t%.6f\n", i, s)
	}
	return nil
}

func runStats(_ context.Context, args []string, out io.Writer) error {
	flags, logLevel := newFlagSet("stats")
	indexPath := flags.StringP("index", "i", "index.bm25", "index file")
	if err := parse(flags, logLevel, args); err != nil {
		return err
	}
	engine, err := indexer.Load(*indexPath)
	if err != nil {
		return err
	}
	stats, err := engine.Stats()
	if err != nil {
		return err
	}
	return writeJSON(out, stats)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
