package normalize

import (
	"errors"
	"fmt"
	"path/filepath"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrDateColumnMissing means no date column could be detected in a file.
var ErrDateColumnMissing = errors.New("date column missing")

// SourceFromFilename tags every row with the file base name.
const SourceFromFilename = "filename"

// Options controls a single Normalize call.
type Options struct {
	// SourceFrom is SourceFromFilename or the name of a column whose value
	// labels each row.
	SourceFrom string

	// Since drops rows dated before it; the zero value disables the filter.
	Since civil.Date
}

// Counts tallies the fate of every source row. Rows always equals
// Valid + DroppedBadDate + DroppedBadAmount + DroppedEmpty + FilteredSince.
type Counts struct {
	Rows             int `json:"rows"`
	Valid            int `json:"valid"`
	DroppedBadDate   int `json:"dropped_bad_date"`
	DroppedBadAmount int `json:"dropped_bad_amount"`
	DroppedEmpty     int `json:"dropped_empty"`
	FilteredSince    int `json:"filtered_since"`
}

// Dropped is the number of rows that failed to normalize.
func (c Counts) Dropped() int {
	return c.DroppedBadDate + c.DroppedBadAmount + c.DroppedEmpty
}

// Result is the outcome of normalizing one table.
type Result struct {
	File         string
	Encoding     Encoding
	Transactions []*domain.Transaction
	Counts       Counts
	Layout       Layout
	AmountShape  AmountShape
	Shifted      bool
	Warnings     []string
}

// Normalize turns a decoded table into canonical transactions in row order.
// Missing date or amount columns fail the whole file; bad cells drop the row.
func Normalize(t *Table, opts Options) (*Result, error) {
	t, shifted := Realign(t)

	layout := DetectLayout(t.Headers)
	if shifted {
		layout.Type = DetailsColumn
	}
	if layout.Date == "" {
		return nil, fmt.Errorf("Normalize: %s: %w", t.Name, ErrDateColumnMissing)
	}

	amounts, err := NewAmountResolver(t, layout)
	if err != nil {
		return nil, fmt.Errorf("Normalize: %s: %w", t.Name, err)
	}

	res := &Result{
		File:        t.Name,
		Encoding:    t.Encoding,
		Layout:      layout,
		AmountShape: amounts.Shape(),
		Shifted:     shifted,
	}

	sourceCol := -1
	base := filepath.Base(t.Name)
	if opts.SourceFrom != "" && opts.SourceFrom != SourceFromFilename {
		sourceCol = t.Index(opts.SourceFrom)
		if sourceCol < 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("source column %q not found, using file name", opts.SourceFrom))
		}
	}

	cols := columns{
		date:    t.Index(layout.Date),
		desc:    t.Index(layout.Description),
		txnID:   t.Index(layout.TxnID),
		ref:     t.Index(layout.Reference),
		time:    t.Index(layout.Time),
		account: t.Index(layout.Account),
		balance: t.Index(layout.Balance),
	}

	for _, row := range t.Rows {
		res.Counts.Rows++

		if blank(row) {
			res.Counts.DroppedEmpty++
			continue
		}

		date, ok := ParseDate(Cell(row, cols.date))
		if !ok {
			res.Counts.DroppedBadDate++
			continue
		}

		amount, ok := amounts.Resolve(row)
		if !ok {
			res.Counts.DroppedBadAmount++
			continue
		}

		desc := Cell(row, cols.desc)
		if desc == "" {
			res.Counts.DroppedEmpty++
			continue
		}

		if !opts.Since.IsZero() && date.Before(opts.Since) {
			res.Counts.FilteredSince++
			continue
		}

		txn := &domain.Transaction{
			Date:        date,
			Description: desc,
			Amount:      amount,
			Source:      base,
			TxnID:       Cell(row, cols.txnID),
			Reference:   Cell(row, cols.ref),
			TimePart:    Cell(row, cols.time),
			Account:     NormalizeAccount(Cell(row, cols.account)),
		}
		if sourceCol >= 0 {
			if v := Cell(row, sourceCol); v != "" {
				txn.Source = v
			}
		}
		if bal, ok := ParseAmount(Cell(row, cols.balance)); ok {
			txn.Balance = decimal.NewNullDecimal(bal)
		}
		Fingerprint(txn)

		res.Transactions = append(res.Transactions, txn)
		res.Counts.Valid++
	}

	return res, nil
}

type columns struct {
	date, desc, txnID, ref, time, account, balance int
}
