package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// TransactionRow is the mirror table row for one stored transaction.
type TransactionRow struct {
	TransactionID int64  `bigquery:"transaction_id"` // REQUIRED
	ContentHash   string `bigquery:"content_hash"`   // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Description     string     `bigquery:"description"`      // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	BalanceAfter    *big.Rat   `bigquery:"balance_after"`    // NULLABLE NUMERIC

	Source    bigquery.NullString `bigquery:"source"`
	TxnID     bigquery.NullString `bigquery:"txn_id"`
	Reference bigquery.NullString `bigquery:"reference"`
	TimePart  bigquery.NullString `bigquery:"time_part"`
	Account   bigquery.NullString `bigquery:"account"`

	Category bigquery.NullString `bigquery:"category"`
	Vendor   bigquery.NullString `bigquery:"vendor"`
	Notes    bigquery.NullString `bigquery:"notes"`

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// NewTransactionRow converts a stored transaction into its mirror row.
func NewTransactionRow(t *domain.Transaction) *TransactionRow {
	row := &TransactionRow{
		TransactionID:   t.ID,
		ContentHash:     t.ContentHash,
		TransactionDate: t.Date,
		Description:     t.Description,
		Amount:          t.Amount.Rat(),
		Source:          nullString(t.Source),
		TxnID:           nullString(t.TxnID),
		Reference:       nullString(t.Reference),
		TimePart:        nullString(t.TimePart),
		Account:         nullString(t.Account),
		Category:        nullString(t.Category),
		Vendor:          nullString(t.Vendor),
		Notes:           nullString(t.Notes),
		CreatedTS:       t.CreatedAt.UTC(),
	}
	if t.Balance.Valid {
		row.BalanceAfter = t.Balance.Decimal.Rat()
	}
	if row.CreatedTS.IsZero() {
		row.CreatedTS = time.Now().UTC()
	}
	return row
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
