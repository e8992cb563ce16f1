package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is one canonical bank/card transaction. Everything except
// Category, Vendor, Notes and the deletion fields is fixed once normalized.
type Transaction struct {
	ID int64 // assigned by the store; 0 before persistence

	Date        civil.Date
	Description string
	Amount      decimal.Decimal // positive = inflow, negative = outflow

	Source    string // originating file or account label, not fingerprinted
	TxnID     string
	Reference string
	TimePart  string
	Account   string // trailing 4 digits or a short token
	Balance   decimal.NullDecimal

	ContentHash   string
	LooseGroupKey string

	Category string
	Vendor   string
	Notes    string

	DeletedAt      *time.Time
	DeletionReason string
	CreatedAt      time.Time
}

// TxnRef identifies a transaction by issuer id within an account.
type TxnRef struct {
	TxnID   string
	Account string
}

// Ref returns the (txnId, account) pair for the transaction.
func (t *Transaction) Ref() TxnRef {
	return TxnRef{TxnID: t.TxnID, Account: t.Account}
}

// Deleted reports whether the row carries a soft-deletion marker.
func (t *Transaction) Deleted() bool {
	return t.DeletedAt != nil
}

// TransactionFilter selects stored transactions. Zero dates and invalid
// amounts are open bounds.
type TransactionFilter struct {
	Start civil.Date
	End   civil.Date

	Category  string // exact match
	Vendor    string // case-insensitive substring
	Search    string // case-insensitive substring of the description
	MinAmount decimal.NullDecimal
	MaxAmount decimal.NullDecimal

	IncludeDeleted    bool
	UncategorizedOnly bool

	// SortBy is one of SortByDate (default), SortByAmount or SortByCategory.
	SortBy string
	Desc   bool
	Limit  int
}

// Sort keys accepted by TransactionFilter.SortBy.
const (
	SortByDate     = "date"
	SortByAmount   = "amount"
	SortByCategory = "category"
)

// ValidSort reports whether s is an accepted sort key; empty means the default.
func ValidSort(s string) bool {
	switch s {
	case "", SortByDate, SortByAmount, SortByCategory:
		return true
	}
	return false
}

// CategoryUpdate assigns categorization results to one stored row.
type CategoryUpdate struct {
	ID       int64
	Category string
	Vendor   string
	Notes    string
}
