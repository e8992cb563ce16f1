package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/dedup"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"golang.org/x/sync/errgroup"
)

// ParseStep reads and normalizes files concurrently. Results keep the
// discovery order so ingestion order is stable.
type ParseStep struct {
	Workers int
}

func (s *ParseStep) Name() string { return "parse" }

func (s *ParseStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	results := make([]FileResult, len(state.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Workers)
	for i, name := range state.Files {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = parseFile(gctx, state.Opts, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ParseStep: %w", err)
	}

	state.Parsed = results
	for _, r := range results {
		if r.Err != nil {
			log.Error().Err(r.Err).Str("file", r.Name).Msg("File could not be ingested")
			continue
		}
		for _, w := range r.Result.Warnings {
			log.Warn().Str("file", r.Name).Msg(w)
		}
		log.Info().
			Str("file", r.Name).
			Str("encoding", string(r.Result.Encoding)).
			Str("amount_shape", string(r.Result.AmountShape)).
			Int("rows", r.Result.Counts.Rows).
			Int("valid", r.Result.Counts.Valid).
			Int("dropped", r.Result.Counts.Dropped()).
			Int("filtered", r.Result.Counts.FilteredSince).
			Msg("Normalized file")
		state.Batch = append(state.Batch, r.Result.Transactions...)
	}
	return nil
}

func parseFile(ctx context.Context, opts Options, name string) FileResult {
	fr := FileResult{Name: name}

	data, err := opts.Source.Read(ctx, name)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Data = data

	table, err := normalize.ReadTable(name, data, opts.Encoding)
	if err != nil {
		fr.Err = err
		return fr
	}
	res, err := normalize.Normalize(table, normalize.Options{SourceFrom: opts.SourceFrom, Since: opts.Since})
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Result = res
	return fr
}

// LookupStep loads, in bulk, the stored hashes and txn refs the batch could
// collide with. A failure here is fatal.
type LookupStep struct {
	Store Store
}

func (s *LookupStep) Name() string { return "lookup" }

func (s *LookupStep) Execute(ctx context.Context, state *State) error {
	state.Existing = dedup.Existing{
		Hashes:  map[string]struct{}{},
		TxnRefs: map[domain.TxnRef]struct{}{},
	}
	if len(state.Batch) == 0 {
		return nil
	}

	hashes, err := s.Store.ExistingHashesFor(ctx, state.Batch)
	if err != nil {
		return fmt.Errorf("LookupStep: %w", err)
	}
	refs, err := s.Store.ExistingTxnRefsFor(ctx, state.Batch)
	if err != nil {
		return fmt.Errorf("LookupStep: %w", err)
	}
	state.Existing = dedup.Existing{Hashes: hashes, TxnRefs: refs}
	return nil
}

// DedupStep applies the tiered rules to the batch.
type DedupStep struct {
	Engine *dedup.Engine
}

func (s *DedupStep) Name() string { return "dedup" }

func (s *DedupStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	state.Outcome = s.Engine.Run(state.Batch, state.Existing)
	for _, d := range state.Outcome.Drops {
		log.Debug().
			Str("tier", d.Tier.String()).
			Bool("stored", d.Stored).
			Str("content_hash", d.Txn.ContentHash).
			Str("description", d.Txn.Description).
			Msg("Dropped duplicate")
	}
	log.Info().
		Int("batch", len(state.Batch)).
		Int("survivors", len(state.Outcome.Survivors)).
		Int("tier1", state.Outcome.DroppedByTier(dedup.TierTxnRef)).
		Int("tier2", state.Outcome.DroppedByTier(dedup.TierReference)).
		Int("tier3", state.Outcome.DroppedByTier(dedup.TierContentHash)).
		Int("groups", len(state.Outcome.Groups)).
		Msg("Deduplicated batch")
	return nil
}

// CategorizeStep categorizes survivors before they are stored. It never
// fails the run.
type CategorizeStep struct {
	Store       Store
	Categorizer Categorizer
}

func (s *CategorizeStep) Name() string { return "categorize" }

func (s *CategorizeStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	if len(state.Outcome.Survivors) == 0 {
		return nil
	}

	var rules *categorize.Rules
	mappings, err := s.Store.ListVendorMappings(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load vendor mappings, categorizing without them")
	} else if rules, err = categorize.CompileRules(mappings); err != nil {
		log.Warn().Err(err).Msg("Invalid vendor mapping, categorizing without rules")
		rules = nil
	}

	state.Categorized = s.Categorizer.Categorize(ctx, state.Outcome.Survivors, rules)
	return nil
}

// PersistStep inserts survivors and stages the proposed review groups in one
// transaction.
type PersistStep struct {
	Store Store
}

func (s *PersistStep) Name() string { return "persist" }

func (s *PersistStep) Execute(ctx context.Context, state *State) error {
	groups := make([]sqlite.HashGroup, 0, len(state.Outcome.Groups))
	for _, g := range state.Outcome.Groups {
		hashes := make([]string, len(g.Members))
		for i, m := range g.Members {
			hashes[i] = m.ContentHash
		}
		groups = append(groups, sqlite.HashGroup{Score: g.Score, Reason: g.Reason, Hashes: hashes})
	}

	res, err := s.Store.InsertBatch(ctx, state.Outcome.Survivors, groups)
	if err != nil {
		return fmt.Errorf("PersistStep: %w", err)
	}
	if res.Inserted+res.Conflicts != len(state.Outcome.Survivors) {
		return fmt.Errorf("PersistStep: inserted %d + conflicts %d != survivors %d",
			res.Inserted, res.Conflicts, len(state.Outcome.Survivors))
	}

	for _, t := range state.Outcome.Survivors {
		if id, ok := res.IDs[t.ContentHash]; ok {
			t.ID = id
		}
	}
	state.Inserted = res
	return nil
}

// ExportStep mirrors the rows inserted by this run. Export failures are
// reported, not fatal: the primary store already holds the rows.
type ExportStep struct {
	Exporters []Exporter
}

func (s *ExportStep) Name() string { return "export" }

func (s *ExportStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	inserted := make([]*domain.Transaction, 0, len(state.Outcome.Survivors))
	for _, t := range state.Outcome.Survivors {
		if t.ID != 0 {
			inserted = append(inserted, t)
		}
	}

	state.Exported = make(map[string]int, len(s.Exporters))
	for _, e := range s.Exporters {
		n, err := e.Export(ctx, inserted)
		if err != nil {
			log.Error().Err(err).Str("destination", e.Name()).Msg("Export failed")
			if state.ExportErrors == nil {
				state.ExportErrors = map[string]string{}
			}
			state.ExportErrors[e.Name()] = err.Error()
			continue
		}
		state.Exported[e.Name()] = n
		log.Info().Str("destination", e.Name()).Int("rows", n).Msg("Exported transactions")
	}
	return nil
}

// ArchiveStep copies every successfully read file to the archive.
type ArchiveStep struct {
	Archiver Archiver
}

func (s *ArchiveStep) Name() string { return "archive" }

func (s *ArchiveStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	for _, f := range state.Parsed {
		if f.Err != nil {
			continue
		}
		uri, err := s.Archiver.Archive(ctx, state.RunID, f.Name, f.Data)
		if err != nil {
			log.Warn().Err(err).Str("file", f.Name).Msg("Could not archive source file")
			continue
		}
		state.Archived++
		log.Debug().Str("file", f.Name).Str("uri", uri).Msg("Archived source file")
	}
	return nil
}
