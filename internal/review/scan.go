package review

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/dedup"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
)

// ScanOptions controls an on-demand duplicate scan.
type ScanOptions struct {
	// AsOf ends the trailing window; zero means the newest stored date.
	AsOf civil.Date

	// AutoFinalize resolves groups scoring at or above the threshold as
	// delete_duplicate, keeping the lowest id.
	AutoFinalize bool

	// DryRun reports clusters without staging anything.
	DryRun bool
}

// ScannedGroup is one cluster found by a scan.
type ScannedGroup struct {
	GroupID       string  `json:"group_id,omitempty"`
	Members       []int64 `json:"members"`
	Score         float64 `json:"score"`
	Reason        string  `json:"reason"`
	Skipped       bool    `json:"skipped,omitempty"`
	AutoFinalized bool    `json:"auto_finalized,omitempty"`
}

// ScanResult summarizes a scan.
type ScanResult struct {
	RunID         int64          `json:"run_id"`
	Candidates    int            `json:"candidates"`
	Groups        []ScannedGroup `json:"groups"`
	Staged        int            `json:"staged"`
	AutoFinalized int            `json:"auto_finalized"`
	Skipped       int            `json:"skipped"`
}

// Scan looks for possible duplicates among live stored rows inside the loose
// window. Rows already in an open group and pairs already resolved together
// are left out.
func (w *Workflow) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	log := logger.FromContext(ctx)

	runID, err := w.store.StartRun(ctx, domain.RunMeta{
		Operation: domain.OpDuplicateScan,
		Details:   map[string]interface{}{"window_days": w.window, "dry_run": opts.DryRun},
	})
	if err != nil {
		return nil, fmt.Errorf("Scan: start run: %w", err)
	}

	res, err := w.scan(ctx, opts)
	if err != nil {
		if cerr := w.store.CompleteRun(ctx, runID, domain.RunCounters{Errors: 1}, domain.RunFailed,
			map[string]interface{}{"error": err.Error()}); cerr != nil {
			log.Error().Err(cerr).Int64("run_id", runID).Msg("Failed to mark scan run failed")
		}
		return nil, err
	}
	res.RunID = runID

	counters := domain.RunCounters{
		Processed: res.Candidates,
		Inserted:  res.Staged,
		Updated:   res.AutoFinalized,
		Skipped:   res.Skipped,
	}
	details := map[string]interface{}{"window_days": w.window, "dry_run": opts.DryRun, "groups": len(res.Groups)}
	if err := w.store.CompleteRun(ctx, runID, counters, domain.RunCompleted, details); err != nil {
		return nil, fmt.Errorf("Scan: complete run: %w", err)
	}

	log.Info().
		Int64("run_id", runID).
		Int("candidates", res.Candidates).
		Int("staged", res.Staged).
		Int("auto_finalized", res.AutoFinalized).
		Int("skipped", res.Skipped).
		Msg("Duplicate scan finished")
	return res, nil
}

func (w *Workflow) scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	window := dedup.Window{Days: w.window, Anchor: opts.AsOf}

	filter := domain.TransactionFilter{}
	if !opts.AsOf.IsZero() {
		filter.End = opts.AsOf
		if w.window > 0 {
			filter.Start = opts.AsOf.AddDays(-w.window)
		}
	}
	live, err := w.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("Scan: list transactions: %w", err)
	}
	live = window.Filter(live)

	open, err := w.store.OpenMemberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("Scan: open members: %w", err)
	}
	candidates := make([]*domain.Transaction, 0, len(live))
	for _, t := range live {
		if _, busy := open[t.ID]; !busy {
			candidates = append(candidates, t)
		}
	}

	resolved, err := w.store.ResolvedMemberSets(ctx)
	if err != nil {
		return nil, fmt.Errorf("Scan: resolved groups: %w", err)
	}
	skip := make(map[dedup.PairKey]struct{})
	for _, set := range resolved {
		for i := range set {
			for j := i + 1; j < len(set); j++ {
				skip[dedup.NewPairKey(set[i], set[j])] = struct{}{}
			}
		}
	}

	res := &ScanResult{Candidates: len(candidates)}
	for _, c := range dedup.FindClusters(candidates, w.tolerance, skip) {
		sg := ScannedGroup{Score: c.Match.Score, Reason: c.Match.Reason}
		keep := c.Members[0].ID
		for _, m := range c.Members {
			sg.Members = append(sg.Members, m.ID)
			if m.ID < keep {
				keep = m.ID
			}
		}

		if opts.DryRun {
			res.Groups = append(res.Groups, sg)
			continue
		}

		staged, err := w.Stage(ctx, sg.Members, sg.Score, sg.Reason, domain.OriginScan)
		if err != nil {
			return nil, err
		}
		if staged.Skipped {
			sg.Skipped = true
			res.Skipped++
			res.Groups = append(res.Groups, sg)
			continue
		}
		sg.GroupID = staged.GroupID
		res.Staged++

		if opts.AutoFinalize && sg.Score >= w.threshold {
			_, err := w.Review(ctx, sg.GroupID, domain.Decision{
				Action:   domain.ActionDeleteDuplicate,
				KeepID:   keep,
				Reviewer: AutoReviewer,
				Notes:    "auto-finalized: " + sg.Reason,
			})
			if err != nil {
				return nil, err
			}
			sg.AutoFinalized = true
			res.AutoFinalized++
		}
		res.Groups = append(res.Groups, sg)
	}
	return res, nil
}
