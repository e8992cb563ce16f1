package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	fixed := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return fixed })
	return repo
}

func txn(date, desc, amount string, mutate ...func(*domain.Transaction)) *domain.Transaction {
	d, _ := civil.ParseDate(date)
	t := &domain.Transaction{
		Date:        d,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
		Source:      "test.csv",
	}
	for _, m := range mutate {
		m(t)
	}
	normalize.Fingerprint(t)
	return t
}

func balance(b string) func(*domain.Transaction) {
	return func(t *domain.Transaction) { t.Balance = decimal.NewNullDecimal(decimal.RequireFromString(b)) }
}

// seedPair inserts two loosely matching rows staged as one group and returns
// their ids and the group id.
func seedPair(t *testing.T, repo *Repository) (int64, int64, string) {
	t.Helper()
	ctx := context.Background()

	a := txn("2024-01-03", "COFFEE SHOP #102", "-4.50", balance("100.00"))
	b := txn("2024-01-03", "COFFEE SHOP #102", "-4.50", balance("95.50"))
	res, err := repo.InsertBatch(ctx, []*domain.Transaction{a, b}, []HashGroup{{
		Score:  0.85,
		Reason: "Same Description and Amount, 0 days apart",
		Hashes: []string{a.ContentHash, b.ContentHash},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, res.GroupsStaged)

	pending, err := repo.PendingGroups(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return res.IDs[a.ContentHash], res.IDs[b.ContentHash], pending[0].Group.GroupID
}

func TestInsertBatch_IdempotentUnderUniqueHash(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	batch := []*domain.Transaction{
		txn("2024-01-03", "COFFEE", "-4.50", balance("100.00")),
		txn("2024-01-04", "RENT", "-1200.00"),
	}

	res, err := repo.InsertBatch(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Len(t, res.IDs, 2)

	res, err = repo.InsertBatch(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Conflicts)

	hashes, err := repo.ExistingHashesFor(ctx, batch)
	require.NoError(t, err)
	assert.Len(t, hashes, 2)

	stored, err := repo.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "-4.50", stored[0].Amount.StringFixed(2))
	assert.True(t, stored[0].Balance.Valid)
	assert.Equal(t, "100.00", stored[0].Balance.Decimal.StringFixed(2))
	assert.False(t, stored[1].Balance.Valid)
	assert.Equal(t, batch[0].ContentHash, stored[0].ContentHash)
	assert.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 3}, stored[0].Date)
}

func TestExistingTxnRefsFor(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stored := txn("2024-01-03", "PAYMENT", "-20.00", func(t *domain.Transaction) { t.TxnID, t.Account = "FIT1", "1234" })
	_, err := repo.InsertBatch(ctx, []*domain.Transaction{stored}, nil)
	require.NoError(t, err)

	sameAccount := txn("2024-01-05", "PAYMENT", "-20.00", func(t *domain.Transaction) { t.TxnID, t.Account = "FIT1", "1234" })
	otherAccount := txn("2024-01-05", "PAYMENT", "-20.00", func(t *domain.Transaction) { t.TxnID, t.Account = "FIT1", "9999" })

	refs, err := repo.ExistingTxnRefsFor(ctx, []*domain.Transaction{sameAccount, otherAccount})
	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Contains(t, refs, domain.TxnRef{TxnID: "FIT1", Account: "1234"})
}

func TestStageGroup_OneOpenGroupPerRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a, b, _ := seedPair(t, repo)

	c := txn("2024-01-04", "COFFEE SHOP #102", "-4.50")
	res, err := repo.InsertBatch(ctx, []*domain.Transaction{c}, nil)
	require.NoError(t, err)
	cID := res.IDs[c.ContentHash]

	staged, err := repo.StageGroup(ctx, &domain.ReviewGroup{
		GroupID: "g2", SimilarityScore: 0.75, Reason: "x", Origin: domain.OriginScan,
		Members: []int64{b, cID},
	})
	require.NoError(t, err)
	assert.False(t, staged)

	open, err := repo.OpenMemberIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	assert.Contains(t, open, a)
	assert.NotContains(t, open, cID)

	_, err = repo.GetGroup(ctx, "g2")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestApplyReview_DeleteDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a, b, groupID := seedPair(t, repo)

	audit, err := repo.ApplyReview(ctx, groupID, domain.Decision{
		Action:   domain.ActionDeleteDuplicate,
		KeepID:   a,
		Reviewer: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{b}, audit.AffectedIDs)

	kept, err := repo.GetTransaction(ctx, a)
	require.NoError(t, err)
	assert.False(t, kept.Deleted())
	assert.Empty(t, kept.Notes)

	dup, err := repo.GetTransaction(ctx, b)
	require.NoError(t, err)
	assert.True(t, dup.Deleted())
	assert.Equal(t, DeletionReasonDuplicate, dup.DeletionReason)
	assert.Contains(t, dup.Notes, "Duplicate of transaction")

	g, err := repo.GetGroup(ctx, groupID)
	require.NoError(t, err)
	assert.True(t, g.Reviewed)
	assert.Equal(t, domain.ActionDeleteDuplicate, g.Action)
	assert.Equal(t, "alice", g.ReviewedBy)
	require.NotNil(t, g.ReviewedAt)

	trail, err := repo.ListAudit(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, a, trail[0].KeepID)

	open, err := repo.OpenMemberIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, domain.OpDuplicateReview, runs[0].Operation)
	assert.Equal(t, 1, runs[0].Updated)

	live, err := repo.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestApplyReview_SecondReviewFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a, _, groupID := seedPair(t, repo)

	_, err := repo.ApplyReview(ctx, groupID, domain.Decision{Action: domain.ActionKeepBoth, Reviewer: "alice"})
	require.NoError(t, err)

	_, err = repo.ApplyReview(ctx, groupID, domain.Decision{Action: domain.ActionDeleteDuplicate, KeepID: a, Reviewer: "bob"})
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
	assert.Contains(t, err.Error(), "already reviewed")

	g, err := repo.GetGroup(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionKeepBoth, g.Action)
	assert.Equal(t, "alice", g.ReviewedBy)

	live, err := repo.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, live, 2)
}

func TestApplyReview_Rejections(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, _, groupID := seedPair(t, repo)

	tests := []struct {
		name    string
		groupID string
		d       domain.Decision
		want    error
	}{
		{"invalid action", groupID, domain.Decision{Action: "shred"}, domain.ErrInvalidAction},
		{"keep id missing", groupID, domain.Decision{Action: domain.ActionDeleteDuplicate}, domain.ErrKeepIDRequired},
		{"keep id not a member", groupID, domain.Decision{Action: domain.ActionDeleteDuplicate, KeepID: 999}, domain.ErrNotMember},
		{"unknown group", "nope", domain.Decision{Action: domain.ActionIgnore}, domain.ErrGroupNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.ApplyReview(ctx, tt.groupID, tt.d)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	g, err := repo.GetGroup(ctx, groupID)
	require.NoError(t, err)
	assert.False(t, g.Reviewed)
}

func TestApplyReview_AuditFailureRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a, b, groupID := seedPair(t, repo)

	_, err := repo.DB().ExecContext(ctx, `DROP TABLE review_audit`)
	require.NoError(t, err)

	_, err = repo.ApplyReview(ctx, groupID, domain.Decision{Action: domain.ActionDeleteDuplicate, KeepID: a, Reviewer: "alice"})
	require.Error(t, err)

	g, err := repo.GetGroup(ctx, groupID)
	require.NoError(t, err)
	assert.False(t, g.Reviewed)

	dup, err := repo.GetTransaction(ctx, b)
	require.NoError(t, err)
	assert.False(t, dup.Deleted())
}

func TestRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.StartRun(ctx, domain.RunMeta{Operation: domain.OpCSVImport, SourceFile: "jan.csv"})
	require.NoError(t, err)

	counters := domain.RunCounters{Processed: 10, Inserted: 7, Skipped: 3}
	require.NoError(t, repo.CompleteRun(ctx, id, counters, domain.RunCompleted, map[string]interface{}{"files": 1}))

	err = repo.CompleteRun(ctx, id, domain.RunCounters{}, domain.RunFailed, nil)
	assert.ErrorIs(t, err, ErrRunNotPending)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunCompleted, runs[0].Status)
	assert.Equal(t, 7, runs[0].Inserted)
	assert.Equal(t, "jan.csv", runs[0].SourceFile)
	assert.EqualValues(t, 1, runs[0].Details["files"])
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestDeletes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a, b, _ := seedPair(t, repo)

	require.NoError(t, repo.SoftDelete(ctx, a, "user_request"))
	got, err := repo.GetTransaction(ctx, a)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
	assert.Equal(t, "user_request", got.DeletionReason)

	require.NoError(t, repo.PermanentDelete(ctx, b))
	_, err = repo.GetTransaction(ctx, b)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	assert.ErrorIs(t, repo.SoftDelete(ctx, 12345, "x"), domain.ErrTransactionNotFound)

	n, err := repo.ClearTransactions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Transactions)
	assert.Equal(t, 0, stats.PendingGroups)
	assert.Equal(t, 3, stats.Runs)
}

func TestUpdateCategoriesAndFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	batch := []*domain.Transaction{
		txn("2024-01-01", "A", "-1.00"),
		txn("2024-01-15", "B", "-2.00"),
		txn("2024-02-01", "C", "-3.00"),
	}
	res, err := repo.InsertBatch(ctx, batch, nil)
	require.NoError(t, err)

	n, err := repo.UpdateCategories(ctx, []domain.CategoryUpdate{{ID: res.IDs[batch[0].ContentHash], Category: "Dining", Vendor: "A"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	uncategorized, err := repo.ListTransactions(ctx, domain.TransactionFilter{UncategorizedOnly: true})
	require.NoError(t, err)
	assert.Len(t, uncategorized, 2)

	jan, err := repo.ListTransactions(ctx, domain.TransactionFilter{
		Start: civil.Date{Year: 2024, Month: 1, Day: 10},
		End:   civil.Date{Year: 2024, Month: 1, Day: 31},
	})
	require.NoError(t, err)
	require.Len(t, jan, 1)
	assert.Equal(t, "B", jan[0].Description)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Live)
	assert.Equal(t, 2, stats.Uncategorized)
	assert.Equal(t, "2024-01-01", stats.FirstDate)
	assert.Equal(t, "2024-02-01", stats.LastDate)
}

func TestVendorMappings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.UpsertVendorMapping(ctx, domain.VendorMapping{Pattern: "STARBUCKS", Category: "Dining"})
	require.NoError(t, err)
	id, err := repo.UpsertVendorMapping(ctx, domain.VendorMapping{Pattern: `^UBER\b`, Category: "Transportation", IsRegex: true, Priority: 10})
	require.NoError(t, err)
	_, err = repo.UpsertVendorMapping(ctx, domain.VendorMapping{Pattern: "STARBUCKS", Category: "Groceries"})
	require.NoError(t, err)

	mappings, err := repo.ListVendorMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, id, mappings[0].ID)
	assert.True(t, mappings[0].IsRegex)
	assert.Equal(t, "Groceries", mappings[1].Category)

	ok, err := repo.DeleteVendorMapping(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListTransactions_QueryFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	batch := []*domain.Transaction{
		txn("2024-01-02", "TESCO STORES 3321", "-32.10"),
		txn("2024-01-05", "CAFE NERO LONDON", "-3.20"),
		txn("2024-01-09", "TESCO EXPRESS", "-8.75"),
		txn("2024-01-20", "ACME PAYROLL", "2500.00"),
	}
	res, err := repo.InsertBatch(ctx, batch, nil)
	require.NoError(t, err)
	_, err = repo.UpdateCategories(ctx, []domain.CategoryUpdate{
		{ID: res.IDs[batch[0].ContentHash], Category: "Groceries", Vendor: "Tesco"},
		{ID: res.IDs[batch[1].ContentHash], Category: "Dining", Vendor: "Cafe Nero"},
		{ID: res.IDs[batch[2].ContentHash], Category: "Groceries", Vendor: "Tesco Express"},
		{ID: res.IDs[batch[3].ContentHash], Category: "Income", Vendor: "Acme"},
	})
	require.NoError(t, err)

	amount := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.RequireFromString(s)) }

	tests := []struct {
		name   string
		filter domain.TransactionFilter
		want   []string
	}{
		{name: "category", filter: domain.TransactionFilter{Category: "Groceries"}, want: []string{"TESCO STORES 3321", "TESCO EXPRESS"}},
		{name: "vendor substring ignores case", filter: domain.TransactionFilter{Vendor: "tesco"}, want: []string{"TESCO STORES 3321", "TESCO EXPRESS"}},
		{name: "description search", filter: domain.TransactionFilter{Search: "nero"}, want: []string{"CAFE NERO LONDON"}},
		{name: "amount range", filter: domain.TransactionFilter{MinAmount: amount("-10"), MaxAmount: amount("0")}, want: []string{"CAFE NERO LONDON", "TESCO EXPRESS"}},
		{name: "amount descending", filter: domain.TransactionFilter{SortBy: domain.SortByAmount, Desc: true, Limit: 2}, want: []string{"ACME PAYROLL", "CAFE NERO LONDON"}},
		{name: "newest first", filter: domain.TransactionFilter{Desc: true, Limit: 1}, want: []string{"ACME PAYROLL"}},
		{name: "by category", filter: domain.TransactionFilter{SortBy: domain.SortByCategory, Limit: 1}, want: []string{"CAFE NERO LONDON"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListTransactions(ctx, tt.filter)
			require.NoError(t, err)
			descs := make([]string, 0, len(got))
			for _, g := range got {
				descs = append(descs, g.Description)
			}
			assert.Equal(t, tt.want, descs)
		})
	}
}

func TestVendorSuggestions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	const note = "unmatched: no suggestion returned"

	batch := []*domain.Transaction{
		txn("2024-01-02", "XYZ LTD 1001", "-40.00"),
		txn("2024-01-16", "XYZ LTD 1002", "-20.00"),
		txn("2024-01-03", "ONE OFF", "-5.00"),
		txn("2024-01-04", "TESCO STORES", "-12.00"),
		txn("2024-01-05", "TESCO STORES 2", "-13.00"),
	}
	res, err := repo.InsertBatch(ctx, batch, nil)
	require.NoError(t, err)
	_, err = repo.UpdateCategories(ctx, []domain.CategoryUpdate{
		{ID: res.IDs[batch[0].ContentHash], Category: "Misc", Vendor: "XYZ LTD", Notes: note},
		{ID: res.IDs[batch[1].ContentHash], Category: "Misc", Vendor: "XYZ LTD", Notes: note},
		{ID: res.IDs[batch[2].ContentHash], Category: "Misc", Vendor: "ONE OFF", Notes: note},
		{ID: res.IDs[batch[3].ContentHash], Category: "Groceries", Vendor: "Tesco"},
		{ID: res.IDs[batch[4].ContentHash], Category: "Groceries", Vendor: "Tesco"},
	})
	require.NoError(t, err)

	got, err := repo.VendorSuggestions(ctx, note, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "XYZ LTD", got[0].Vendor)
	assert.Equal(t, 2, got[0].Count)
	assert.InDelta(t, -30.0, got[0].AvgAmount, 0.001)
	assert.Equal(t, "2024-01-02", got[0].FirstSeen)
	assert.Equal(t, "2024-01-16", got[0].LastSeen)
	assert.Equal(t, []string{"XYZ LTD 1001", "XYZ LTD 1002"}, got[0].Samples)

	got, err = repo.VendorSuggestions(ctx, note, 1, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
