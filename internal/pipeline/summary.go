package pipeline

import (
	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/dedup"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
)

// FileSummary reports one input file.
type FileSummary struct {
	File        string                `json:"file"`
	Encoding    normalize.Encoding    `json:"encoding,omitempty"`
	AmountShape normalize.AmountShape `json:"amount_shape,omitempty"`
	Shifted     bool                  `json:"shifted,omitempty"`
	Counts      normalize.Counts      `json:"counts"`
	Warnings    []string              `json:"warnings,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Summary is the truthful account of one run:
// Processed == Inserted + Skipped() + Dropped.
type Summary struct {
	RunID  int64            `json:"run_id,omitempty"`
	Status domain.RunStatus `json:"status"`
	DryRun bool             `json:"dry_run,omitempty"`

	Files        []FileSummary `json:"files"`
	FilesErrored int           `json:"files_errored"`

	Processed int `json:"processed"`
	Dropped   int `json:"dropped"`
	Filtered  int `json:"filtered"`

	// Duplicates counts rows dropped per tier name.
	Duplicates       map[string]int `json:"duplicates"`
	DuplicatesStored int            `json:"duplicates_stored"`

	Survivors int `json:"survivors"`
	Inserted  int `json:"inserted"`
	Conflicts int `json:"conflicts"`

	GroupsProposed int `json:"groups_proposed"`
	GroupsStaged   int `json:"groups_staged"`
	GroupsSkipped  int `json:"groups_skipped"`

	Categorized  categorize.Result `json:"categorized"`
	Exported     map[string]int    `json:"exported,omitempty"`
	ExportErrors map[string]string `json:"export_errors,omitempty"`
	Archived     int               `json:"archived,omitempty"`
}

// DuplicatesTotal is the number of rows dropped by tiers 1-3.
func (s *Summary) DuplicatesTotal() int {
	n := 0
	for _, v := range s.Duplicates {
		n += v
	}
	return n
}

// Skipped counts rows that were valid but not inserted: duplicates, store
// conflicts and rows before --since. In a dry run survivors count as would-be
// inserts, not skips.
func (s *Summary) Skipped() int {
	return s.DuplicatesTotal() + s.Conflicts + s.Filtered
}

func buildSummary(state *State) *Summary {
	s := &Summary{
		RunID:        state.RunID,
		Status:       domain.RunCompleted,
		DryRun:       state.Opts.DryRun,
		Duplicates:   map[string]int{},
		Survivors:    len(state.Outcome.Survivors),
		Categorized:  state.Categorized,
		Exported:     state.Exported,
		ExportErrors: state.ExportErrors,
		Archived:     state.Archived,
	}

	for _, f := range state.Parsed {
		fs := FileSummary{File: f.Name}
		if f.Err != nil {
			fs.Error = f.Err.Error()
			s.FilesErrored++
			s.Files = append(s.Files, fs)
			continue
		}
		r := f.Result
		fs.Encoding = r.Encoding
		fs.AmountShape = r.AmountShape
		fs.Shifted = r.Shifted
		fs.Counts = r.Counts
		fs.Warnings = r.Warnings
		s.Files = append(s.Files, fs)

		s.Processed += r.Counts.Rows
		s.Dropped += r.Counts.Dropped()
		s.Filtered += r.Counts.FilteredSince
	}
	if s.FilesErrored > 0 {
		s.Status = domain.RunPartial
	}

	for _, t := range []dedup.Tier{dedup.TierTxnRef, dedup.TierReference, dedup.TierContentHash} {
		if n := state.Outcome.DroppedByTier(t); n > 0 {
			s.Duplicates[t.String()] = n
		}
	}
	s.DuplicatesStored = state.Outcome.DroppedFromStore()
	s.GroupsProposed = len(state.Outcome.Groups)

	if state.Inserted != nil {
		s.Inserted = state.Inserted.Inserted
		s.Conflicts = state.Inserted.Conflicts
		s.GroupsStaged = state.Inserted.GroupsStaged
		s.GroupsSkipped = state.Inserted.GroupsSkipped
	}
	return s
}

func (s *Summary) details() map[string]interface{} {
	d := map[string]interface{}{
		"files":           s.Files,
		"duplicates":      s.Duplicates,
		"dropped":         s.Dropped,
		"filtered":        s.Filtered,
		"conflicts":       s.Conflicts,
		"groups_proposed": s.GroupsProposed,
		"groups_staged":   s.GroupsStaged,
		"groups_skipped":  s.GroupsSkipped,
	}
	if s.Categorized.Total() > 0 {
		d["categorized"] = s.Categorized
	}
	if len(s.Exported) > 0 {
		d["exported"] = s.Exported
	}
	if len(s.ExportErrors) > 0 {
		d["export_errors"] = s.ExportErrors
	}
	if s.Archived > 0 {
		d["archived"] = s.Archived
	}
	return d
}
