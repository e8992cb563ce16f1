package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
)

type deleteCmd struct {
	IDs       []int64 `arg:"" name:"id" help:"Transaction ids."`
	Reason    string  `default:"manual" help:"Deletion reason stored on soft-deleted rows."`
	Permanent bool    `help:"Remove the rows instead of marking them deleted."`
	Confirm   string  `help:"Answer to the permanent delete prompt; must be 'yes'."`
}

func (c *deleteCmd) Run(e *env) error {
	if c.Permanent && !confirm(e, c.Confirm, fmt.Sprintf("This permanently removes %d transaction(s). Type 'yes' to continue: ", len(c.IDs))) {
		return errors.New("permanent delete not confirmed, nothing deleted")
	}

	var failed []error
	for _, id := range c.IDs {
		var err error
		if c.Permanent {
			err = e.repo.PermanentDelete(e.ctx, id)
		} else {
			err = e.repo.SoftDelete(e.ctx, id, c.Reason)
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("%d: %w", id, err))
			continue
		}
		verb := "Soft-deleted"
		if c.Permanent {
			verb = "Removed"
		}
		fmt.Fprintf(e.out, "%s %d.\n", verb, id)
	}
	return errors.Join(failed...)
}

// confirm accepts a flag value of "yes" or a typed "yes" on the input.
func confirm(e *env, flag, prompt string) bool {
	if flag != "" {
		return strings.EqualFold(strings.TrimSpace(flag), "yes")
	}
	fmt.Fprint(e.out, prompt)
	line, err := bufio.NewReader(e.in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes")
}

type categorizeCmd struct {
	Limit   int  `help:"Categorize at most this many rows; 0 means all."`
	NoModel bool `name:"no-model" help:"Use vendor rules and the Misc fallback only."`
}

func (c *categorizeCmd) Run(e *env) error {
	log := logger.FromContext(e.ctx)

	var classifier categorize.Classifier
	if !c.NoModel {
		g, err := categorize.NewGeminiClassifier(e.ctx, e.cfg.GeminiModel)
		if err != nil {
			log.Warn().Err(err).Msg("Model unavailable, categorizing with vendor rules and fallback only")
		} else {
			classifier = g
		}
	}

	svc := categorize.NewService(classifier, categorize.Options{
		BatchSize:     e.cfg.CategorizeBatchSize,
		MaxAttempts:   e.cfg.CategorizeMaxAttempts,
		Backoff:       e.cfg.CategorizeBackoff,
		RatePerMinute: e.cfg.CategorizeRatePerMin,
	})
	summary, err := svc.Run(e.ctx, e.repo, c.Limit)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(summary)
	}
	fmt.Fprintf(e.out, "Categorized %d of %d row(s): rules %d, model %d, cached %d, fallback %d.\n",
		summary.Updated, summary.Rows, summary.ByRule, summary.ByModel, summary.Cached, summary.Fallback)
	return nil
}

type vendorCmd struct {
	Add     vendorAddCmd     `cmd:"" help:"Add or replace a vendor rule."`
	List    vendorListCmd    `cmd:"" help:"List vendor rules."`
	Import  vendorImportCmd  `cmd:"" help:"Load vendor rules from a YAML file."`
	Delete  vendorDeleteCmd  `cmd:"" help:"Remove a vendor rule."`
	Suggest vendorSuggestCmd `cmd:"" help:"Suggest rules for frequent uncategorized vendors."`
}

type vendorAddCmd struct {
	Pattern  string `arg:"" help:"Substring or regular expression matched against descriptions."`
	Category string `arg:"" help:"Category assigned on match."`
	Regex    bool   `help:"Treat the pattern as a regular expression."`
	Priority int    `help:"Higher priority rules are tried first."`
}

func (c *vendorAddCmd) Run(e *env) error {
	m := domain.VendorMapping{
		Pattern:  strings.TrimSpace(c.Pattern),
		Category: c.Category,
		IsRegex:  c.Regex,
		Priority: c.Priority,
	}
	if m.Pattern == "" {
		return errors.New("pattern must not be empty")
	}
	if !categorize.ValidCategory(m.Category) {
		return fmt.Errorf("unknown category %q; expected one of %s", m.Category, strings.Join(categorize.Categories, ", "))
	}
	if m.IsRegex {
		if _, err := regexp.Compile(m.Pattern); err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
	}
	id, err := e.repo.UpsertVendorMapping(e.ctx, m)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Saved rule %d: %s -> %s.\n", id, m.Pattern, m.Category)
	return nil
}

type vendorListCmd struct{}

func (c *vendorListCmd) Run(e *env) error {
	mappings, err := e.repo.ListVendorMappings(e.ctx)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(mappings)
	}
	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tPATTERN\tCATEGORY")
	for _, m := range mappings {
		pattern := m.Pattern
		if m.IsRegex {
			pattern = "/" + pattern + "/"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", m.ID, m.Priority, pattern, m.Category)
	}
	return tw.Flush()
}

type vendorImportCmd struct {
	Path string `arg:"" help:"YAML file with a top-level mappings list."`
}

func (c *vendorImportCmd) Run(e *env) error {
	f, err := os.Open(c.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Path, err)
	}
	defer f.Close()

	mappings, err := categorize.LoadMappingsYAML(f)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		if _, err := e.repo.UpsertVendorMapping(e.ctx, m); err != nil {
			return err
		}
	}
	fmt.Fprintf(e.out, "Imported %d rule(s).\n", len(mappings))
	return nil
}

type vendorDeleteCmd struct {
	ID int64 `arg:"" help:"Rule id."`
}

func (c *vendorDeleteCmd) Run(e *env) error {
	ok, err := e.repo.DeleteVendorMapping(e.ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rule %d not found", c.ID)
	}
	fmt.Fprintf(e.out, "Deleted rule %d.\n", c.ID)
	return nil
}

type runsCmd struct {
	Limit int `default:"20" help:"Number of entries to show."`
}

type runView struct {
	ID          int64                  `json:"id"`
	Operation   string                 `json:"operation"`
	SourceFile  string                 `json:"source_file,omitempty"`
	Status      domain.RunStatus       `json:"status"`
	Processed   int                    `json:"processed"`
	Inserted    int                    `json:"inserted"`
	Updated     int                    `json:"updated"`
	Skipped     int                    `json:"skipped"`
	Errors      int                    `json:"errors"`
	Details     map[string]interface{} `json:"details,omitempty"`
	StartedAt   string                 `json:"started_at"`
	CompletedAt string                 `json:"completed_at,omitempty"`
}

func (c *runsCmd) Run(e *env) error {
	runs, err := e.repo.ListRuns(e.ctx, c.Limit)
	if err != nil {
		return err
	}
	views := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{
			ID:         r.ID,
			Operation:  r.Operation,
			SourceFile: r.SourceFile,
			Status:     r.Status,
			Processed:  r.Processed,
			Inserted:   r.Inserted,
			Updated:    r.Updated,
			Skipped:    r.Skipped,
			Errors:     r.Errors,
			Details:    r.Details,
			StartedAt:  r.StartedAt.Format("2006-01-02 15:04:05"),
		}
		if r.CompletedAt != nil {
			v.CompletedAt = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		views = append(views, v)
	}
	if e.json {
		return e.printJSON(views)
	}

	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tOPERATION\tSTATUS\tPROCESSED\tINSERTED\tUPDATED\tSKIPPED\tERRORS\tSOURCE")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			v.ID, v.StartedAt, v.Operation, v.Status, v.Processed, v.Inserted, v.Updated, v.Skipped, v.Errors, v.SourceFile)
	}
	return tw.Flush()
}

type statsCmd struct{}

func (c *statsCmd) Run(e *env) error {
	s, err := e.repo.Stats(e.ctx)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(s)
	}
	fmt.Fprintf(e.out, "Transactions:   %d (%d live, %d soft-deleted)\n", s.Transactions, s.Live, s.SoftDeleted)
	fmt.Fprintf(e.out, "Uncategorized:  %d\n", s.Uncategorized)
	fmt.Fprintf(e.out, "Review groups:  %d open, %d reviewed\n", s.PendingGroups, s.ReviewedGroups)
	fmt.Fprintf(e.out, "Runs logged:    %d\n", s.Runs)
	if s.FirstDate != "" {
		fmt.Fprintf(e.out, "Date range:     %s .. %s\n", s.FirstDate, s.LastDate)
	}
	return nil
}
