package bigquery

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

func TestNewTransactionRow(t *testing.T) {
	created := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	txn := &domain.Transaction{
		ID:          7,
		Date:        civil.Date{Year: 2024, Month: time.March, Day: 1},
		Description: "TESCO STORES",
		Amount:      decimal.RequireFromString("-12.34"),
		Balance:     decimal.NewNullDecimal(decimal.RequireFromString("100.50")),
		Account:     "1234",
		ContentHash: "abc",
		Category:    "Groceries",
		CreatedAt:   created,
	}

	row := NewTransactionRow(txn)
	assert.Equal(t, int64(7), row.TransactionID)
	assert.Equal(t, "abc", row.ContentHash)
	assert.Equal(t, "-12.34", row.Amount.FloatString(2))
	require.NotNil(t, row.BalanceAfter)
	assert.Equal(t, "100.50", row.BalanceAfter.FloatString(2))
	assert.True(t, row.Account.Valid)
	assert.False(t, row.TxnID.Valid)
	assert.False(t, row.Vendor.Valid)
	assert.Equal(t, "Groceries", row.Category.StringVal)
	assert.Equal(t, created, row.CreatedTS)
}

func TestNewTransactionRow_NoBalance(t *testing.T) {
	row := NewTransactionRow(&domain.Transaction{Amount: decimal.NewFromInt(5)})
	assert.Nil(t, row.BalanceAfter)
	assert.False(t, row.CreatedTS.IsZero())
}

func TestSavers_UseContentHashAsInsertID(t *testing.T) {
	savers := Savers([]*domain.Transaction{
		{ContentHash: "h1", Amount: decimal.NewFromInt(1)},
		{ContentHash: "h2", Amount: decimal.NewFromInt(2)},
	})
	require.Len(t, savers, 2)
	assert.Equal(t, "h1", savers[0].InsertID)
	assert.Equal(t, "h2", savers[1].InsertID)
}
