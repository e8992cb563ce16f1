package normalize

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func baseTxn() *domain.Transaction {
	return &domain.Transaction{
		Date:        civil.Date{Year: 2024, Month: 1, Day: 3},
		Description: "COFFEE SHOP #102",
		Amount:      decimal.RequireFromString("-4.50"),
		TxnID:       "T1",
		Reference:   "R1",
		TimePart:    "09:30",
		Account:     "1234",
		Balance:     decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
	}
}

func TestContentHash_Stable(t *testing.T) {
	a, b := baseTxn(), baseTxn()
	b.Source = "other.csv"
	b.Category = "Dining"

	h := ContentHash(a)
	assert.Len(t, h, 16)
	assert.Equal(t, h, ContentHash(b))
}

func TestContentHash_AbsentOptionalsSerializeAsZero(t *testing.T) {
	a := baseTxn()
	a.Balance = decimal.NullDecimal{}

	b := baseTxn()
	b.Balance = decimal.NewNullDecimal(decimal.Zero)

	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestContentHash_AmountScaleIgnored(t *testing.T) {
	a, b := baseTxn(), baseTxn()
	a.Amount = decimal.RequireFromString("12.3")
	b.Amount = decimal.RequireFromString("12.30")

	assert.Equal(t, ContentHash(a), ContentHash(b))
}

func TestContentHash_DiffersOnEveryField(t *testing.T) {
	base := ContentHash(baseTxn())

	mutations := map[string]func(*domain.Transaction){
		"date":        func(t *domain.Transaction) { t.Date = t.Date.AddDays(1) },
		"description": func(t *domain.Transaction) { t.Description = "COFFEE SHOP #103" },
		"amount":      func(t *domain.Transaction) { t.Amount = decimal.RequireFromString("-4.51") },
		"txnId":       func(t *domain.Transaction) { t.TxnID = "T2" },
		"reference":   func(t *domain.Transaction) { t.Reference = "" },
		"timePart":    func(t *domain.Transaction) { t.TimePart = "09:31" },
		"account":     func(t *domain.Transaction) { t.Account = "9999" },
		"balance":     func(t *domain.Transaction) { t.Balance = decimal.NewNullDecimal(decimal.RequireFromString("95.50")) },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			txn := baseTxn()
			mutate(txn)
			assert.NotEqual(t, base, ContentHash(txn))
		})
	}
}

func TestLooseGroupKey(t *testing.T) {
	d := civil.Date{Year: 2024, Month: 1, Day: 3}

	k := LooseGroupKey(d, "COFFEE", decimal.RequireFromString("12.3"))
	assert.Len(t, k, 16)
	assert.Equal(t, k, LooseGroupKey(d, "  COFFEE ", decimal.RequireFromString("12.30")))
	assert.NotEqual(t, k, LooseGroupKey(d.AddDays(1), "COFFEE", decimal.RequireFromString("12.30")))
	assert.NotEqual(t, k, LooseGroupKey(d, "COFFEE", decimal.RequireFromString("12.31")))
}

func TestFingerprint_LooseKeyIgnoresBalance(t *testing.T) {
	a, b := baseTxn(), baseTxn()
	b.Balance = decimal.NewNullDecimal(decimal.RequireFromString("95.50"))
	Fingerprint(a)
	Fingerprint(b)

	assert.NotEqual(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.LooseGroupKey, b.LooseGroupKey)
}

func TestNormalizeAccount(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1234-5678-9012-3456", "3456"},
		{"****0042", "0042"},
		{"Acct 12", "Acct 12"},
		{"CHECKING-PRIMARY-ACCOUNT", "CHECKING-PRI"},
		{"  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAccount(tt.in))
		})
	}
}
