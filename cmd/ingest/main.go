package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"cloud.google.com/go/civil"
	"github.com/alecthomas/kong"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/export"
	"github.com/dvloznov/ledger-ingest/internal/gcs"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
)

// Exit codes.
const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

type cli struct {
	InputDir          string   `name:"input-dir" short:"i" help:"Directory of CSV statements, or gs://bucket/prefix."`
	Recursive         bool     `help:"Descend into subdirectories."`
	Since             string   `help:"Skip rows dated before this day (YYYY-MM-DD)."`
	DryRun            bool     `name:"dry-run" help:"Parse and deduplicate, report counts, write nothing."`
	Encoding          string   `default:"auto" help:"File encoding: auto, utf-8, latin1 or cp1252."`
	SourceFrom        string   `name:"source-from" default:"filename" help:"Tag rows with the file name or the value of this column."`
	ClearTransactions bool     `name:"clear-transactions" help:"Delete every stored transaction before ingesting. Prompts for 'yes' on stdin."`
	Categorize        bool     `help:"Categorize new rows before storing them."`
	Export            []string `help:"Mirror inserted rows to es8:URL, bq:PROJECT.DATASET or jsonfile:PATH; bare es8 or bq use the configured target."`
	Archive           bool     `help:"Copy ingested files to gs://ARCHIVE_BUCKET/<run id>/."`
	DB                string   `name:"db" help:"SQLite database path (defaults to DATABASE_PATH)."`
	JSON              bool     `name:"json" help:"Print the run summary as JSON."`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("ingest"),
		kong.Description("Ingest CSV bank statements, drop duplicates and stage likely duplicates for review."),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(exitFatal)
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithContext(ctx, log)

	code := run(ctx, &c, cfg, os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, c *cli, cfg *config.Config, stdin io.Reader, stdout io.Writer) int {
	log := logger.FromContext(ctx)

	opts, err := c.options()
	if err != nil {
		log.Error().Err(err).Msg("Invalid flags")
		return exitFatal
	}
	if c.InputDir == "" && !c.ClearTransactions {
		log.Error().Msg("--input-dir is required")
		return exitFatal
	}

	dbPath := cfg.DatabasePath
	if c.DB != "" {
		dbPath = c.DB
	}

	if c.ClearTransactions {
		if c.DryRun {
			log.Error().Msg("--clear-transactions cannot be combined with --dry-run")
			return exitFatal
		}
		if !confirmed(stdin, stdout) {
			log.Error().Msg("Clear not confirmed, nothing deleted")
			return exitFatal
		}
	}

	if missingLocalInput(c.InputDir) {
		log.Error().Str("input_dir", c.InputDir).Msg("Input directory does not exist")
		return exitFatal
	}

	repo, err := sqlite.NewRepository(ctx, dbPath)
	if err != nil {
		log.Error().Err(err).Str("db", dbPath).Msg("Failed to open database")
		return exitFatal
	}
	defer repo.Close()

	if c.ClearTransactions {
		n, err := repo.ClearTransactions(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to clear transactions")
			return exitFatal
		}
		log.Warn().Int("deleted", n).Msg("Cleared stored transactions")
		fmt.Fprintf(stdout, "Deleted %d transactions.\n", n)
		if c.InputDir == "" {
			return exitOK
		}
	}

	source, closeSource, err := openSource(ctx, c)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open input")
		return exitFatal
	}
	defer closeSource()
	opts.Source = source
	if cfg.CategorizeOnIngest {
		c.Categorize = true
		opts.Categorize = true
	}

	pcfg := pipeline.Config{
		Store:     repo,
		Tolerance: decimal.NewFromFloat(cfg.AmountTolerance),
		Workers:   cfg.ParseWorkers,
	}

	if c.Categorize && !c.DryRun {
		classifier, err := categorize.NewGeminiClassifier(ctx, cfg.GeminiModel)
		if err != nil {
			log.Warn().Err(err).Msg("Model unavailable, categorizing with vendor rules and fallback only")
			pcfg.Categorizer = categorize.NewService(nil, categorizeOptions(cfg))
		} else {
			pcfg.Categorizer = categorize.NewService(classifier, categorizeOptions(cfg))
		}
	}

	if len(c.Export) > 0 && !c.DryRun {
		dests := make([]export.Destination, 0, len(c.Export))
		for _, s := range c.Export {
			d, err := export.ParseDestination(expandDestination(s, cfg))
			if err != nil {
				log.Error().Err(err).Msg("Invalid --export")
				return exitFatal
			}
			dests = append(dests, d)
		}
		exporters, closer, err := export.Open(ctx, dests)
		if closer != nil {
			defer closer.Close()
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to open export destinations")
			return exitFatal
		}
		pcfg.Exporters = exporters
	}

	if c.Archive && !c.DryRun {
		archiver, err := gcs.NewArchiver(ctx, cfg.ArchiveBucket)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open archive bucket")
			return exitFatal
		}
		defer archiver.Close()
		pcfg.Archiver = archiver
	}

	summary, err := pipeline.New(pcfg).Run(ctx, opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrInputMissing) {
			log.Error().Str("input_dir", c.InputDir).Msg("Input directory does not exist")
		} else {
			log.Error().Err(err).Msg("Ingestion failed")
		}
		return exitFatal
	}

	if c.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Error().Err(err).Msg("Failed to write summary")
		}
	} else {
		printSummary(stdout, summary)
	}

	if summary.Status == domain.RunPartial {
		return exitPartial
	}
	return exitOK
}

func (c *cli) options() (pipeline.Options, error) {
	var opts pipeline.Options

	enc, err := normalize.ParseEncoding(c.Encoding)
	if err != nil {
		return opts, err
	}
	opts.Encoding = enc

	if c.Since != "" {
		d, err := civil.ParseDate(c.Since)
		if err != nil {
			return opts, fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
		}
		opts.Since = d
	}

	opts.SourceFrom = strings.TrimSpace(c.SourceFrom)
	opts.DryRun = c.DryRun
	opts.Categorize = c.Categorize
	return opts, nil
}

// missingLocalInput reports whether dir names a local directory that does
// not exist. It is checked before the database is opened.
func missingLocalInput(dir string) bool {
	if dir == "" || gcs.IsURI(dir) {
		return false
	}
	info, err := os.Stat(dir)
	return err != nil || !info.IsDir()
}

// expandDestination fills a bare "bq" or "es8" from the configured project,
// dataset and cluster.
func expandDestination(s string, cfg *config.Config) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(export.KindBigQuery):
		return fmt.Sprintf("%s:%s.%s", export.KindBigQuery, cfg.GCPProject, cfg.BigQueryDataset)
	case string(export.KindElasticsearch):
		return fmt.Sprintf("%s:%s", export.KindElasticsearch, cfg.ElasticsearchURL)
	}
	return s
}

func openSource(ctx context.Context, c *cli) (pipeline.Source, func(), error) {
	if gcs.IsURI(c.InputDir) {
		src, err := gcs.NewSource(ctx, c.InputDir, c.Recursive)
		if err != nil {
			return nil, func() {}, err
		}
		return src, func() { _ = src.Close() }, nil
	}
	return &pipeline.DirSource{Dir: c.InputDir, Recursive: c.Recursive}, func() {}, nil
}

// confirmed prompts on stdout and accepts only a typed "yes". There is no
// flag to skip the prompt.
func confirmed(stdin io.Reader, stdout io.Writer) bool {
	fmt.Fprint(stdout, "This deletes every stored transaction. Type 'yes' to continue: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

func categorizeOptions(cfg *config.Config) categorize.Options {
	return categorize.Options{
		BatchSize:     cfg.CategorizeBatchSize,
		MaxAttempts:   cfg.CategorizeMaxAttempts,
		Backoff:       cfg.CategorizeBackoff,
		RatePerMinute: cfg.CategorizeRatePerMin,
	}
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	if s.DryRun {
		fmt.Fprintln(w, "Dry run: nothing was written.")
	}
	for _, f := range s.Files {
		if f.Error != "" {
			fmt.Fprintf(w, "  %-40s ERROR %s\n", f.File, f.Error)
			continue
		}
		fmt.Fprintf(w, "  %-40s rows=%d valid=%d dropped=%d filtered=%d\n",
			f.File, f.Counts.Rows, f.Counts.Valid, f.Counts.Dropped(), f.Counts.FilteredSince)
		for _, warn := range f.Warnings {
			fmt.Fprintf(w, "      warning: %s\n", warn)
		}
	}

	tiers := make([]string, 0, len(s.Duplicates))
	for name := range s.Duplicates {
		tiers = append(tiers, name)
	}
	sort.Strings(tiers)

	fmt.Fprintf(w, "Status:     %s\n", s.Status)
	fmt.Fprintf(w, "Processed:  %d\n", s.Processed)
	if s.DryRun {
		fmt.Fprintf(w, "Would add:  %d\n", s.Survivors)
	} else {
		fmt.Fprintf(w, "Inserted:   %d\n", s.Inserted)
	}
	fmt.Fprintf(w, "Skipped:    %d\n", s.Skipped())
	for _, name := range tiers {
		fmt.Fprintf(w, "  %-22s %d\n", name, s.Duplicates[name])
	}
	if s.Conflicts > 0 {
		fmt.Fprintf(w, "  %-22s %d\n", "store_conflict", s.Conflicts)
	}
	if s.Filtered > 0 {
		fmt.Fprintf(w, "  %-22s %d\n", "before_since", s.Filtered)
	}
	fmt.Fprintf(w, "Dropped:    %d\n", s.Dropped)
	fmt.Fprintf(w, "Errored:    %d file(s)\n", s.FilesErrored)
	fmt.Fprintf(w, "Review:     %d group(s) staged, %d already open\n", s.GroupsStaged, s.GroupsSkipped)
	if s.Categorized.Total() > 0 {
		fmt.Fprintf(w, "Categorized: %d (rules %d, model %d, cached %d, fallback %d)\n",
			s.Categorized.Total(), s.Categorized.ByRule, s.Categorized.ByModel, s.Categorized.Cached, s.Categorized.Fallback)
	}
	for name, n := range s.Exported {
		fmt.Fprintf(w, "Exported:   %d to %s\n", n, name)
	}
	for name, msg := range s.ExportErrors {
		fmt.Fprintf(w, "Export failed: %s: %s\n", name, msg)
	}
	if s.Archived > 0 {
		fmt.Fprintf(w, "Archived:   %d file(s)\n", s.Archived)
	}
}
