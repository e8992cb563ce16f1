package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// DetailsColumn is the synthesized debit/credit indicator added to shifted files.
const DetailsColumn = "Details"

// shiftedHeaders is the positional layout of exports that drop their leading
// metadata column, so the header row itself is the first transaction.
var shiftedHeaders = []string{"Posting Date", "Description", "Amount", "Type", "Balance", "Check or Slip #", "Extra"}

// typeIndicators maps raw type codes from shifted exports to a debit/credit indicator.
var typeIndicators = map[string]string{
	"ACH_CREDIT":      "CREDIT",
	"ACH_DEBIT":       "DEBIT",
	"QUICKPAY_DEBIT":  "DEBIT",
	"QUICKPAY_CREDIT": "CREDIT",
	"DEBIT_CARD":      "DEBIT",
	"CHECK_PAID":      "CHECK",
	"CHECK_DEPOSIT":   "DSLIP",
	"ATM":             "DEBIT",
	"MISC_CREDIT":     "CREDIT",
	"MISC_DEBIT":      "DEBIT",
}

var slashDate = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}$`)

// TypeIndicator maps a raw type code to its debit/credit indicator; unknown
// codes map to DEBIT.
func TypeIndicator(code string) string {
	if v, ok := typeIndicators[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return v
	}
	return "DEBIT"
}

// LooksShifted reports whether the header row is really a data row: the first
// cell is an mm/dd/yyyy token and there are at least 7 columns.
func LooksShifted(headers []string) bool {
	if len(headers) < len(shiftedHeaders) {
		return false
	}
	return slashDate.MatchString(strings.TrimSpace(headers[0]))
}

// Realign rewrites a shifted table: the header row becomes the first data row,
// columns take the positional names, and a Details column is derived from Type.
// Tables that do not look shifted are returned unchanged with false.
func Realign(t *Table) (*Table, bool) {
	if !LooksShifted(t.Headers) {
		return t, false
	}

	headers := make([]string, 0, len(t.Headers)+1)
	for i := range t.Headers {
		if i < len(shiftedHeaders) {
			headers = append(headers, shiftedHeaders[i])
		} else {
			headers = append(headers, fmt.Sprintf("Extra %d", i-len(shiftedHeaders)+2))
		}
	}
	headers = append(headers, DetailsColumn)

	typeIdx := 3
	rows := make([][]string, 0, len(t.Rows)+1)
	for _, src := range append([][]string{t.Headers}, t.Rows...) {
		row := make([]string, len(headers))
		copy(row, src)
		row[len(headers)-1] = TypeIndicator(Cell(src, typeIdx))
		rows = append(rows, row)
	}

	return &Table{Name: t.Name, Headers: headers, Rows: rows, Encoding: t.Encoding}, true
}
