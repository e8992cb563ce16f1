package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectColumn(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		aliases []string
		want    string
		found   bool
	}{
		{
			name:    "exact match",
			headers: []string{"Date", "Amount"},
			aliases: Aliases[FieldDate],
			want:    "Date",
			found:   true,
		},
		{
			name:    "exact match on a later alias wins over case-insensitive earlier alias",
			headers: []string{"DATE", "Transaction Date"},
			aliases: Aliases[FieldDate],
			want:    "Transaction Date",
			found:   true,
		},
		{
			name:    "case-insensitive fallback returns the header as written",
			headers: []string{"posted date", "amount"},
			aliases: Aliases[FieldDate],
			want:    "posted date",
			found:   true,
		},
		{
			name:    "not found is not an error",
			headers: []string{"Foo", "Bar"},
			aliases: Aliases[FieldDate],
			want:    "",
			found:   false,
		},
		{
			name:    "alias order decides between two present columns",
			headers: []string{"Memo", "Payee"},
			aliases: Aliases[FieldDescription],
			want:    "Payee",
			found:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectColumn(tt.headers, tt.aliases)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectLayout(t *testing.T) {
	l := DetectLayout([]string{"Transaction Date", "Details", "Debit", "Credit", "FITID", "Account Number", "Running Balance"})

	assert.Equal(t, "Transaction Date", l.Date)
	assert.Equal(t, "Details", l.Description)
	assert.Equal(t, "", l.Amount)
	assert.Equal(t, "Debit", l.Debit)
	assert.Equal(t, "Credit", l.Credit)
	assert.Equal(t, "FITID", l.TxnID)
	assert.Equal(t, "Account Number", l.Account)
	assert.Equal(t, "Running Balance", l.Balance)
}

func TestDetectLayout_DescriptionFallsBackToFirstColumn(t *testing.T) {
	l := DetectLayout([]string{"Counterparty", "Date", "Amount"})
	assert.Equal(t, "Counterparty", l.Description)
}

func TestRealign(t *testing.T) {
	tbl := &Table{
		Name:    "chase.csv",
		Headers: []string{"01/05/2024", "AMAZON MKTPL", "-20.00", "DEBIT_CARD", "500.00", "", ""},
		Rows: [][]string{
			{"01/06/2024", "PAYROLL", "1000.00", "ACH_CREDIT", "1500.00", "", ""},
			{"01/07/2024", "CHECK 101", "-75.00", "SOMETHING_NEW", "1425.00", "101", ""},
		},
	}

	got, shifted := Realign(tbl)
	require.True(t, shifted)

	assert.Equal(t, []string{"Posting Date", "Description", "Amount", "Type", "Balance", "Check or Slip #", "Extra", "Details"}, got.Headers)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, "01/05/2024", got.Rows[0][0])
	assert.Equal(t, "DEBIT", got.Rows[0][7])
	assert.Equal(t, "CREDIT", got.Rows[1][7])
	assert.Equal(t, "DEBIT", got.Rows[2][7])
}

func TestRealign_LeavesNormalTablesAlone(t *testing.T) {
	tbl := &Table{Headers: []string{"Date", "Description", "Amount", "Type", "Balance", "Ref", "Extra"}}

	got, shifted := Realign(tbl)
	assert.False(t, shifted)
	assert.Same(t, tbl, got)
}

func TestLooksShifted_NeedsSevenColumns(t *testing.T) {
	assert.False(t, LooksShifted([]string{"01/05/2024", "X", "1.00"}))
	assert.True(t, LooksShifted([]string{"1/5/24", "a", "b", "c", "d", "e", "f"}))
}

func TestTypeIndicator(t *testing.T) {
	assert.Equal(t, "DSLIP", TypeIndicator("check_deposit"))
	assert.Equal(t, "CHECK", TypeIndicator("CHECK_PAID"))
	assert.Equal(t, "DEBIT", TypeIndicator("unknown"))
}
