package categorize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/normalize"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func txn(date, desc, amount string) *domain.Transaction {
	d, _ := civil.ParseDate(date)
	t := &domain.Transaction{Date: d, Description: desc, Amount: decimal.RequireFromString(amount)}
	normalize.Fingerprint(t)
	return t
}

func fastOptions() Options {
	return Options{MaxAttempts: 3, Backoff: time.Millisecond}
}

// answerAll suggests Dining for every item.
func answerAll(calls *int) Classifier {
	return ClassifierFunc(func(_ context.Context, items []Item) (map[string]Suggestion, error) {
		*calls++
		out := make(map[string]Suggestion, len(items))
		for _, it := range items {
			out[it.ContentHash] = Suggestion{Vendor: "Model Vendor", Category: "Dining"}
		}
		return out, nil
	})
}

func TestCategorize_RulesThenModelThenFallback(t *testing.T) {
	rules, err := CompileRules([]domain.VendorMapping{{Pattern: "tesco", Category: "Groceries"}})
	require.NoError(t, err)

	tesco := txn("2024-01-03", "TESCO STORES 3000", "-12.00")
	cafe := txn("2024-01-03", "CAFE NERO", "-3.20")
	unknown := txn("2024-01-04", "XYZ LTD 99999", "-40.00")

	var calls int
	classifier := ClassifierFunc(func(_ context.Context, items []Item) (map[string]Suggestion, error) {
		calls++
		assert.Len(t, items, 2)
		return map[string]Suggestion{cafe.ContentHash: {Category: "Dining"}}, nil
	})

	res := NewService(classifier, fastOptions()).Categorize(context.Background(),
		[]*domain.Transaction{tesco, cafe, unknown}, rules)

	assert.Equal(t, Result{ByRule: 1, ByModel: 1, Fallback: 1}, res)
	assert.Equal(t, 3, res.Total())
	assert.Equal(t, 1, calls)

	assert.Equal(t, "Groceries", tesco.Category)
	assert.Equal(t, "Tesco", tesco.Vendor)

	assert.Equal(t, "Dining", cafe.Category)
	assert.Equal(t, "CAFE NERO", cafe.Vendor)

	assert.Equal(t, FallbackCategory, unknown.Category)
	assert.Equal(t, UnmatchedNote, unknown.Notes)
	assert.Equal(t, "XYZ LTD", unknown.Vendor)
}

func TestCategorize_Retry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		err          error
		wantCalls    int
		wantFallback int
	}{
		{name: "recovers on third attempt", failures: 2, err: errors.New("timeout"), wantCalls: 3},
		{name: "gives up after max attempts", failures: 10, err: errors.New("timeout"), wantCalls: 3, wantFallback: 2},
		{name: "malformed response is retried", failures: 1, err: fmt.Errorf("decode: %w", ErrMalformedResponse), wantCalls: 2},
		{name: "malformed responses exhaust the budget", failures: 10, err: fmt.Errorf("decode: %w", ErrMalformedResponse), wantCalls: 3, wantFallback: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			ok := answerAll(new(int))
			classifier := ClassifierFunc(func(ctx context.Context, items []Item) (map[string]Suggestion, error) {
				calls++
				if calls <= tt.failures {
					return nil, tt.err
				}
				return ok.Classify(ctx, items)
			})

			txns := []*domain.Transaction{txn("2024-01-03", "A", "-1.00"), txn("2024-01-03", "B", "-2.00")}
			res := NewService(classifier, fastOptions()).Categorize(context.Background(), txns, nil)

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantFallback, res.Fallback)
			assert.Equal(t, 2, res.Total())
		})
	}
}

func TestCategorize_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	classifier := ClassifierFunc(func(ctx context.Context, _ []Item) (map[string]Suggestion, error) {
		calls++
		cancel()
		return nil, ctx.Err()
	})

	res := NewService(classifier, fastOptions()).Categorize(ctx, []*domain.Transaction{txn("2024-01-03", "A", "-1.00")}, nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Fallback)
}

func TestCategorize_BatchesAndCache(t *testing.T) {
	var calls int
	svc := NewService(answerAll(&calls), Options{BatchSize: 2, Backoff: time.Millisecond})

	txns := []*domain.Transaction{
		txn("2024-01-01", "A", "-1.00"),
		txn("2024-01-01", "B", "-1.00"),
		txn("2024-01-01", "C", "-1.00"),
		txn("2024-01-01", "D", "-1.00"),
		txn("2024-01-01", "E", "-1.00"),
	}
	res := svc.Categorize(context.Background(), txns, nil)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 5, res.ByModel)

	res = svc.Categorize(context.Background(), txns, nil)
	assert.Equal(t, 3, calls, "answers are served from the cache")
	assert.Equal(t, 5, res.Cached)
}

func TestCategorize_NoClassifier(t *testing.T) {
	txns := []*domain.Transaction{txn("2024-01-01", "A", "-1.00")}
	res := NewService(nil, Options{}).Categorize(context.Background(), txns, nil)
	assert.Equal(t, 1, res.Fallback)
	assert.Equal(t, FallbackCategory, txns[0].Category)
}

func TestRun_UpdatesStoredRows(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlite.NewRepository(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	_, err = repo.InsertBatch(ctx, []*domain.Transaction{
		txn("2024-01-03", "TESCO STORES 3000", "-12.00"),
		txn("2024-01-03", "CAFE NERO", "-3.20"),
	}, nil)
	require.NoError(t, err)
	_, err = repo.UpsertVendorMapping(ctx, domain.VendorMapping{Pattern: "tesco", Category: "Groceries"})
	require.NoError(t, err)

	var calls int
	svc := NewService(answerAll(&calls), fastOptions())

	summary, err := svc.Run(ctx, repo, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 1, summary.ByRule)
	assert.Equal(t, 1, summary.ByModel)
	assert.NotZero(t, summary.RunID)

	stored, err := repo.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	byDesc := map[string]string{}
	for _, s := range stored {
		byDesc[s.Description] = s.Category
	}
	assert.Equal(t, map[string]string{"TESCO STORES 3000": "Groceries", "CAFE NERO": "Dining"}, byDesc)

	summary, err = svc.Run(ctx, repo, 0)
	require.NoError(t, err)
	assert.Zero(t, summary.Rows)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, domain.OpCategorization, r.Operation)
		assert.Equal(t, domain.RunCompleted, r.Status)
	}
}
