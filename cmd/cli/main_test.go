package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/ledger-ingest/internal/config"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/export"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/logger"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/dvloznov/ledger-ingest/internal/review"
)

type fixture struct {
	cfg     *config.Config
	groupID string
	ids     []int64
}

func txn(date, desc, amount, balance string) *domain.Transaction {
	d, _ := civil.ParseDate(date)
	t := &domain.Transaction{
		Date:        d,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Balance:     decimal.NewNullDecimal(decimal.RequireFromString(balance)),
		Source:      "jan.csv",
	}
	normalize.Fingerprint(t)
	return t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.FromEnv()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "ledger.db")

	repo, err := sqlite.NewRepository(ctx, cfg.DatabasePath)
	require.NoError(t, err)
	defer repo.Close()

	a := txn("2024-01-10", "CORNER BAKERY", "-4.50", "100.00")
	b := txn("2024-01-10", "CORNER BAKERY", "-4.50", "95.50")
	c := txn("2024-02-01", "TESCO STORES 3321", "-32.10", "63.40")
	res, err := repo.InsertBatch(ctx, []*domain.Transaction{a, b, c}, nil)
	require.NoError(t, err)
	ids := []int64{res.IDs[a.ContentHash], res.IDs[b.ContentHash], res.IDs[c.ContentHash]}

	staged, err := review.NewWorkflow(repo, review.Options{}).Stage(ctx, ids[:2], 0.85, "Same Description and Amount, 0 days apart", domain.OriginIngest)
	require.NoError(t, err)

	return &fixture{cfg: cfg, groupID: staged.GroupID, ids: ids}
}

func (f *fixture) exec(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	ctx := logger.WithContext(context.Background(), zerolog.Nop())
	var out bytes.Buffer
	err := execute(ctx, args, f.cfg, strings.NewReader(stdin), &out)
	return out.String(), err
}

func (f *fixture) repo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), f.cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func id(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestReviewListAndResolve(t *testing.T) {
	f := newFixture(t)

	out, err := f.exec(t, "", "review", "list")
	require.NoError(t, err)
	assert.Contains(t, out, f.groupID)
	assert.Contains(t, out, "CORNER BAKERY")

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "unknown action", args: []string{"review", "resolve", f.groupID, "--action", "archive"}, wantErr: domain.ErrInvalidAction},
		{name: "keep id missing", args: []string{"review", "resolve", f.groupID, "--action", "delete_duplicate"}, wantErr: domain.ErrKeepIDRequired},
		{name: "keep id outside group", args: []string{"review", "resolve", f.groupID, "--action", "delete_duplicate", "--keep-id", id(f.ids[2])}, wantErr: domain.ErrNotMember},
		{name: "unknown group", args: []string{"review", "resolve", "nope", "--action", "ignore"}, wantErr: domain.ErrGroupNotFound},
		{name: "delete duplicate", args: []string{"review", "resolve", f.groupID, "--action", "delete_duplicate", "--keep-id", id(f.ids[0]), "--reviewer", "alex"}},
		{name: "already reviewed", args: []string{"review", "resolve", f.groupID, "--action", "keep_both"}, wantErr: domain.ErrAlreadyReviewed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.exec(t, "", tt.args...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	dup, err := f.repo(t).GetTransaction(context.Background(), f.ids[1])
	require.NoError(t, err)
	assert.True(t, dup.Deleted())

	out, err = f.exec(t, "", "--json", "review", "audit", f.groupID)
	require.NoError(t, err)
	var audit []auditView
	require.NoError(t, json.Unmarshal([]byte(out), &audit))
	require.Len(t, audit, 1)
	assert.Equal(t, domain.ActionDeleteDuplicate, audit[0].Action)
	assert.Equal(t, "alex", audit[0].Reviewer)
	assert.Equal(t, []int64{f.ids[1]}, audit[0].AffectedIDs)

	out, err = f.exec(t, "", "review", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No open review groups.")
}

func TestReviewWorkbookRoundTrip(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "review.xlsx")

	out, err := f.exec(t, "", "review", "export-workbook", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 group(s)")

	wb, err := excelize.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, wb.SetCellValue(export.ReviewSheet, "A2", export.MarkKeep))
	require.NoError(t, wb.SetCellValue(export.ReviewSheet, "A3", export.MarkDelete))
	require.NoError(t, wb.SetCellValue(export.ReviewSheet, "B3", "same swipe"))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	out, err = f.exec(t, "", "--json", "review", "import-workbook", path)
	require.NoError(t, err)
	var res importResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, domain.ActionDeleteDuplicate, res.Applied[f.groupID])
	assert.Empty(t, res.Failed)

	live, err := f.repo(t).ListTransactions(context.Background(), domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 2)

	// a second import hits the already reviewed group
	out, err = f.exec(t, "", "--json", "review", "import-workbook", path)
	require.NoError(t, err)
	res = importResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Contains(t, res.Failed[f.groupID], domain.ErrAlreadyReviewed.Error())
}

func TestReviewScanDryRun(t *testing.T) {
	f := newFixture(t)

	out, err := f.exec(t, "", "--json", "review", "scan", "--dry-run", "--as-of", "2024-02-01")
	require.NoError(t, err)
	var res review.ScanResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Staged)

	_, err = f.exec(t, "", "review", "scan", "--as-of", "Feb 2024")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	out, err := f.exec(t, "", "delete", id(f.ids[2]), "--reason", "test row")
	require.NoError(t, err)
	assert.Contains(t, out, "Soft-deleted")

	row, err := f.repo(t).GetTransaction(context.Background(), f.ids[2])
	require.NoError(t, err)
	assert.True(t, row.Deleted())
	assert.Equal(t, "test row", row.DeletionReason)

	_, err = f.exec(t, "no\n", "delete", "--permanent", id(f.ids[2]))
	assert.Error(t, err)
	_, err = f.repo(t).GetTransaction(context.Background(), f.ids[2])
	require.NoError(t, err)

	_, err = f.exec(t, "", "delete", "--permanent", "--confirm", "yes", id(f.ids[2]))
	require.NoError(t, err)
	_, err = f.repo(t).GetTransaction(context.Background(), f.ids[2])
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	_, err = f.exec(t, "", "delete", "999")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestVendorRulesAndCategorize(t *testing.T) {
	f := newFixture(t)

	rules := filepath.Join(t.TempDir(), "vendors.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`mappings:
  - pattern: tesco
    category: Groceries
    priority: 10
  - pattern: "^CORNER"
    category: Dining
    regex: true
`), 0o644))

	_, err := f.exec(t, "", "vendor", "import", rules)
	require.NoError(t, err)

	_, err = f.exec(t, "", "vendor", "add", "uber", "Rides")
	assert.Error(t, err)

	out, err := f.exec(t, "", "--json", "vendor", "list")
	require.NoError(t, err)
	var mappings []domain.VendorMapping
	require.NoError(t, json.Unmarshal([]byte(out), &mappings))
	require.Len(t, mappings, 2)

	out, err = f.exec(t, "", "--json", "categorize", "--no-model")
	require.NoError(t, err)
	var summary struct {
		Rows    int `json:"rows"`
		Updated int `json:"updated"`
		ByRule  int `json:"by_rule"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 3, summary.ByRule)

	row, err := f.repo(t).GetTransaction(context.Background(), f.ids[2])
	require.NoError(t, err)
	assert.Equal(t, "Groceries", row.Category)

	_, err = f.exec(t, "", "vendor", "delete", id(mappings[0].ID))
	require.NoError(t, err)
	_, err = f.exec(t, "", "vendor", "delete", id(mappings[0].ID))
	assert.Error(t, err)
}

func TestRunsAndStats(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(t, "", "delete", id(f.ids[2]))
	require.NoError(t, err)

	out, err := f.exec(t, "", "runs")
	require.NoError(t, err)
	assert.Contains(t, out, domain.OpTransactionDeletion)

	out, err = f.exec(t, "", "--json", "stats")
	require.NoError(t, err)
	var s sqlite.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Transactions)
	assert.Equal(t, 1, s.SoftDeleted)
	assert.Equal(t, 1, s.PendingGroups)
	assert.Equal(t, "2024-01-10", s.FirstDate)
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec(t, "", "frobnicate")
	assert.Error(t, err)
}
