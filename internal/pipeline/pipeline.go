// Package pipeline runs one CSV ingestion: discover files, normalize them,
// deduplicate against the batch and the store, persist survivors and stage
// review groups, then optionally categorize, export and archive.
package pipeline

import (
	"context"
	"fmt"
	"runtime"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/dedup"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/shopspring/decimal"
)

// Step is one stage of an ingestion run.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// FileResult is the outcome of reading and normalizing one file.
type FileResult struct {
	Name   string
	Data   []byte
	Result *normalize.Result
	Err    error
}

// State is shared by the steps of one run.
type State struct {
	RunID int64
	Opts  Options

	Files  []string
	Parsed []FileResult

	// Batch is every normalized row of every readable file, in file order.
	Batch []*domain.Transaction

	Existing dedup.Existing
	Outcome  dedup.Outcome

	Categorized categorize.Result
	Inserted    *sqlite.BatchResult

	Exported     map[string]int
	ExportErrors map[string]string
	Archived     int
}

// Pipeline executes steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs every step; the first error stops the run.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		log.Debug().Int("step", i+1).Str("name", step.Name()).Msg("Running pipeline step")
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// Config wires an Ingester to its collaborators.
type Config struct {
	Store Store

	// Categorizer, Exporters and Archiver are optional.
	Categorizer Categorizer
	Exporters   []Exporter
	Archiver    Archiver

	Tolerance decimal.Decimal
	Workers   int
}

// Options controls one run.
type Options struct {
	Source     Source
	Encoding   normalize.Encoding
	SourceFrom string
	Since      civil.Date
	DryRun     bool
	Categorize bool
}

// Ingester runs ingestion pipelines.
type Ingester struct {
	cfg Config
}

// New creates an Ingester.
func New(cfg Config) *Ingester {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = dedup.DefaultTolerance
	}
	return &Ingester{cfg: cfg}
}

func (in *Ingester) steps(opts Options) *Pipeline {
	engine := dedup.New(dedup.Options{Tolerance: in.cfg.Tolerance})

	steps := []Step{
		&ParseStep{Workers: in.cfg.Workers},
		&LookupStep{Store: in.cfg.Store},
		&DedupStep{Engine: engine},
	}
	if opts.DryRun {
		return NewPipeline(steps...)
	}
	if opts.Categorize && in.cfg.Categorizer != nil {
		steps = append(steps, &CategorizeStep{Store: in.cfg.Store, Categorizer: in.cfg.Categorizer})
	}
	steps = append(steps, &PersistStep{Store: in.cfg.Store})
	if len(in.cfg.Exporters) > 0 {
		steps = append(steps, &ExportStep{Exporters: in.cfg.Exporters})
	}
	if in.cfg.Archiver != nil {
		steps = append(steps, &ArchiveStep{Archiver: in.cfg.Archiver})
	}
	return NewPipeline(steps...)
}

// Run ingests every file of opts.Source. File-level problems are reported in
// the summary and make the run partial; lookup or insert failures abort it
// with nothing written. A dry run writes nothing, not even the run log.
func (in *Ingester) Run(ctx context.Context, opts Options) (*Summary, error) {
	log := logger.FromContext(ctx)

	if opts.Source == nil {
		return nil, fmt.Errorf("Run: no input source")
	}
	files, err := opts.Source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	log.Info().Str("source", opts.Source.Location()).Int("files", len(files)).Bool("dry_run", opts.DryRun).Msg("Discovered input files")

	state := &State{Opts: opts, Files: files}

	if !opts.DryRun {
		runID, err := in.cfg.Store.StartRun(ctx, domain.RunMeta{
			Operation:  domain.OpCSVImport,
			SourceFile: opts.Source.Location(),
			Details:    map[string]interface{}{"files": len(files), "since": sinceString(opts.Since)},
		})
		if err != nil {
			return nil, fmt.Errorf("Run: start run: %w", err)
		}
		state.RunID = runID
		log = log.With().Int64("run_id", runID).Logger()
		ctx = logger.WithContext(ctx, log)
	}

	if err := in.steps(opts).Execute(ctx, state); err != nil {
		if state.RunID != 0 {
			in.fail(ctx, state, err)
		}
		return nil, fmt.Errorf("Run: %w", err)
	}

	summary := buildSummary(state)
	if state.RunID != 0 {
		counters := domain.RunCounters{
			Processed: summary.Processed,
			Inserted:  summary.Inserted,
			Skipped:   summary.Skipped(),
			Errors:    summary.FilesErrored + summary.Dropped,
		}
		if err := in.cfg.Store.CompleteRun(ctx, state.RunID, counters, summary.Status, summary.details()); err != nil {
			return nil, fmt.Errorf("Run: complete run: %w", err)
		}
	}

	log.Info().
		Str("status", string(summary.Status)).
		Int("processed", summary.Processed).
		Int("inserted", summary.Inserted).
		Int("skipped", summary.Skipped()).
		Int("dropped", summary.Dropped).
		Int("files_errored", summary.FilesErrored).
		Int("groups_staged", summary.GroupsStaged).
		Msg("Ingestion finished")
	return summary, nil
}

func (in *Ingester) fail(ctx context.Context, state *State, cause error) {
	log := logger.FromContext(ctx)
	details := map[string]interface{}{"error": cause.Error()}
	if err := in.cfg.Store.CompleteRun(ctx, state.RunID, domain.RunCounters{Errors: 1}, domain.RunFailed, details); err != nil {
		log.Error().Err(err).Msg("Failed to mark ingestion run failed")
	}
}

func sinceString(d civil.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}
