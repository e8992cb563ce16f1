package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/export"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

type reviewCmd struct {
	List           reviewListCmd           `cmd:"" help:"List open review groups with their rows."`
	Scan           reviewScanCmd           `cmd:"" help:"Scan stored rows for likely duplicates and stage groups."`
	Resolve        reviewResolveCmd        `cmd:"" help:"Record a decision for one group."`
	Audit          reviewAuditCmd          `cmd:"" help:"Show the audit trail of a group."`
	ExportWorkbook reviewExportWorkbookCmd `cmd:"" name:"export-workbook" help:"Write open groups to an Excel workbook."`
	ImportWorkbook reviewImportWorkbookCmd `cmd:"" name:"import-workbook" help:"Apply decisions filled in on an exported workbook."`
}

type reviewListCmd struct{}

func (c *reviewListCmd) Run(e *env) error {
	groups, err := e.workflow().Queue(e.ctx)
	if err != nil {
		return err
	}
	if e.json {
		views := make([]groupView, 0, len(groups))
		for _, pg := range groups {
			views = append(views, newGroupView(pg))
		}
		return e.printJSON(views)
	}
	if len(groups) == 0 {
		fmt.Fprintln(e.out, "No open review groups.")
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	for _, pg := range groups {
		g := pg.Group
		fmt.Fprintf(tw, "Group %s\tscore %.2f\t%s\t(%s)\n", g.GroupID, g.SimilarityScore, g.Reason, g.Origin)
		for _, t := range pg.Transactions {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", t.ID, t.Date, t.Amount.StringFixed(2), t.Description, t.Source)
		}
	}
	return tw.Flush()
}

type reviewScanCmd struct {
	AsOf         string `name:"as-of" help:"End of the trailing window (YYYY-MM-DD); defaults to the newest stored date."`
	AutoFinalize bool   `name:"auto-finalize" help:"Resolve high-confidence groups as delete_duplicate, keeping the oldest row."`
	DryRun       bool   `name:"dry-run" help:"Report clusters without staging them."`
}

func (c *reviewScanCmd) Run(e *env) error {
	opts := review.ScanOptions{AutoFinalize: c.AutoFinalize, DryRun: c.DryRun}
	if c.AsOf != "" {
		d, err := civil.ParseDate(c.AsOf)
		if err != nil {
			return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
		}
		opts.AsOf = d
	}

	res, err := e.workflow().Scan(e.ctx, opts)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(res)
	}

	for _, g := range res.Groups {
		state := "staged"
		switch {
		case g.Skipped:
			state = "already open"
		case g.AutoFinalized:
			state = "auto-finalized"
		case c.DryRun:
			state = "found"
		}
		fmt.Fprintf(e.out, "  %-14s score %.2f members %v  %s\n", state, g.Score, g.Members, g.Reason)
	}
	fmt.Fprintf(e.out, "Scanned %d rows: %d group(s) staged, %d auto-finalized, %d skipped.\n",
		res.Candidates, res.Staged, res.AutoFinalized, res.Skipped)
	return nil
}

type reviewResolveCmd struct {
	GroupID  string `arg:"" name:"group-id" help:"Review group id."`
	Action   string `required:"" help:"keep_both, delete_duplicate, merge or ignore."`
	KeepID   int64  `name:"keep-id" help:"Row to keep for delete_duplicate."`
	Notes    string `help:"Free-form note stored with the decision."`
	Reviewer string `default:"user" help:"Name recorded in the audit trail."`
}

func (c *reviewResolveCmd) Run(e *env) error {
	audit, err := e.workflow().Review(e.ctx, c.GroupID, domain.Decision{
		Action:   domain.Action(strings.ToLower(strings.TrimSpace(c.Action))),
		KeepID:   c.KeepID,
		Notes:    c.Notes,
		Reviewer: c.Reviewer,
	})
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(newAuditView(*audit))
	}
	fmt.Fprintf(e.out, "Group %s resolved as %s.", c.GroupID, audit.Action)
	if len(audit.AffectedIDs) > 0 {
		fmt.Fprintf(e.out, " Soft-deleted %v.", audit.AffectedIDs)
	}
	fmt.Fprintln(e.out)
	return nil
}

type reviewAuditCmd struct {
	GroupID string `arg:"" name:"group-id" help:"Review group id."`
}

func (c *reviewAuditCmd) Run(e *env) error {
	entries, err := e.repo.ListAudit(e.ctx, c.GroupID)
	if err != nil {
		return err
	}
	views := make([]auditView, 0, len(entries))
	for _, a := range entries {
		views = append(views, newAuditView(a))
	}
	if e.json {
		return e.printJSON(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(e.out, "No audit entries.")
		return nil
	}
	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	for _, a := range views {
		fmt.Fprintf(tw, "%s\t%s\tby %s\tkeep %d\taffected %v\t%s\n", a.At, a.Action, a.Reviewer, a.KeepID, a.AffectedIDs, a.Notes)
	}
	return tw.Flush()
}

type reviewExportWorkbookCmd struct {
	Out string `short:"o" default:"dup_review.xlsx" help:"Workbook path."`
}

func (c *reviewExportWorkbookCmd) Run(e *env) error {
	groups, err := e.workflow().Queue(e.ctx)
	if err != nil {
		return err
	}
	f, err := os.Create(c.Out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", c.Out, err)
	}
	if err := export.WriteReviewWorkbook(f, groups); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", c.Out, err)
	}
	fmt.Fprintf(e.out, "Wrote %d group(s) to %s.\n", len(groups), c.Out)
	return nil
}

type reviewImportWorkbookCmd struct {
	Path     string `arg:"" help:"Workbook filled in by a reviewer."`
	Reviewer string `default:"workbook" help:"Name recorded in the audit trail."`
}

// importResult reports one workbook import.
type importResult struct {
	Applied map[string]domain.Action `json:"applied"`
	Skipped map[string]string        `json:"skipped"`
	Failed  map[string]string        `json:"failed"`
}

func (c *reviewImportWorkbookCmd) Run(e *env) error {
	log := logger.FromContext(e.ctx)

	f, err := os.Open(c.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Path, err)
	}
	defer f.Close()

	wd, err := export.ReadReviewWorkbook(f)
	if err != nil {
		return err
	}

	res := importResult{
		Applied: map[string]domain.Action{},
		Skipped: wd.Skipped,
		Failed:  map[string]string{},
	}
	wf := e.workflow()

	ids := make([]string, 0, len(wd.Decisions))
	for id := range wd.Decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		d := wd.Decisions[id]
		d.Reviewer = c.Reviewer
		if _, err := wf.Review(e.ctx, id, d); err != nil {
			log.Warn().Err(err).Str("group_id", id).Msg("Workbook decision rejected")
			res.Failed[id] = err.Error()
			continue
		}
		res.Applied[id] = d.Action
	}

	if e.json {
		return e.printJSON(res)
	}
	fmt.Fprintf(e.out, "Applied %d decision(s), skipped %d, failed %d.\n", len(res.Applied), len(res.Skipped), len(res.Failed))
	for id, reason := range res.Skipped {
		fmt.Fprintf(e.out, "  skipped %s: %s\n", id, reason)
	}
	for id, reason := range res.Failed {
		fmt.Fprintf(e.out, "  failed  %s: %s\n", id, reason)
	}
	return nil
}

type groupView struct {
	GroupID string            `json:"group_id"`
	Score   float64           `json:"score"`
	Reason  string            `json:"reason"`
	Origin  string            `json:"origin"`
	Rows    []transactionView `json:"rows"`
}

type transactionView struct {
	ID          int64  `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Source      string `json:"source,omitempty"`
	Category    string `json:"category,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
}

func newTransactionView(t *domain.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		Date:        t.Date.String(),
		Description: t.Description,
		Amount:      t.Amount.StringFixed(2),
		Source:      t.Source,
		Category:    t.Category,
		Vendor:      t.Vendor,
	}
}

func newGroupView(pg domain.PendingGroup) groupView {
	v := groupView{
		GroupID: pg.Group.GroupID,
		Score:   pg.Group.SimilarityScore,
		Reason:  pg.Group.Reason,
		Origin:  string(pg.Group.Origin),
	}
	for _, t := range pg.Transactions {
		v.Rows = append(v.Rows, newTransactionView(t))
	}
	return v
}

type auditView struct {
	Action      domain.Action `json:"action"`
	KeepID      int64         `json:"keep_id,omitempty"`
	Reviewer    string        `json:"reviewer"`
	Notes       string        `json:"notes,omitempty"`
	AffectedIDs []int64       `json:"affected_ids,omitempty"`
	At          string        `json:"at"`
}

func newAuditView(a domain.ReviewAudit) auditView {
	return auditView{
		Action:      a.Action,
		KeepID:      a.KeepID,
		Reviewer:    a.Reviewer,
		Notes:       a.Notes,
		AffectedIDs: a.AffectedIDs,
		At:          a.At.Format("2006-01-02 15:04:05"),
	}
}
