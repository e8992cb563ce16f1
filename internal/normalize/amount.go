package normalize

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrAmountUndetectable means no supported amount shape was found in a file.
var ErrAmountUndetectable = errors.New("amount undetectable")

// AmountShape is the source layout an amount is derived from.
type AmountShape string

const (
	ShapeSigned      AmountShape = "signed"
	ShapeDebitCredit AmountShape = "debit_credit"
	ShapeTypeFlagged AmountShape = "type_flagged"
)

var currencyStripper = strings.NewReplacer("$", "", "£", "", "€", "", "¥", "", ",", "", " ", "", "\u00a0", "")

// ParseAmount parses a money cell into a 2-decimal value. It strips currency
// symbols and thousands separators and treats "(x)", "x-" and "x DR" as negative.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, false
	}

	neg := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "DR"):
		neg = true
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "CR"):
		s = s[:len(s)-2]
	}

	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "USD"), "GBP")
	s = currencyStripper.Replace(s)

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = !neg
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		neg = !neg
		s = s[:len(s)-1]
	}
	s = currencyStripper.Replace(s)
	if s == "" || s == "-" || s == "+" {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if neg {
		d = d.Neg()
	}
	return d.Round(2), true
}

// AmountResolver derives a signed amount from one row.
type AmountResolver struct {
	shape  AmountShape
	amount int
	debit  int
	credit int
	typ    int
}

// NewAmountResolver picks the first supported shape for t: a single signed
// column, a debit/credit pair, or a value column flagged by a type column.
func NewAmountResolver(t *Table, l Layout) (*AmountResolver, error) {
	if idx := t.Index(l.Amount); idx >= 0 {
		return &AmountResolver{shape: ShapeSigned, amount: idx, debit: -1, credit: -1, typ: -1}, nil
	}

	debit, credit := t.Index(l.Debit), t.Index(l.Credit)
	if debit >= 0 || credit >= 0 {
		return &AmountResolver{shape: ShapeDebitCredit, amount: -1, debit: debit, credit: credit, typ: -1}, nil
	}

	if typ := t.Index(l.Type); typ >= 0 {
		if value := t.Index(valueColumn(t.Headers)); value >= 0 {
			return &AmountResolver{shape: ShapeTypeFlagged, amount: value, debit: -1, credit: -1, typ: typ}, nil
		}
	}

	return nil, ErrAmountUndetectable
}

// Shape reports which source shape the resolver uses.
func (r *AmountResolver) Shape() AmountShape {
	return r.shape
}

// Resolve returns the signed amount for row, false when it cannot be parsed.
func (r *AmountResolver) Resolve(row []string) (decimal.Decimal, bool) {
	switch r.shape {
	case ShapeSigned:
		return ParseAmount(Cell(row, r.amount))

	case ShapeDebitCredit:
		debit, okD := ParseAmount(Cell(row, r.debit))
		credit, okC := ParseAmount(Cell(row, r.credit))
		if !okD && !okC {
			return decimal.Decimal{}, false
		}
		return credit.Abs().Sub(debit.Abs()), true

	case ShapeTypeFlagged:
		v, ok := ParseAmount(Cell(row, r.amount))
		if !ok {
			return decimal.Decimal{}, false
		}
		if IsDebitType(Cell(row, r.typ)) {
			return v.Abs().Neg(), true
		}
		return v.Abs(), true
	}
	return decimal.Decimal{}, false
}

// IsDebitType reports whether a type cell marks an outflow.
func IsDebitType(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	switch t {
	case "dr", "withdrawal", "charge":
		return true
	}
	return strings.Contains(t, "debit") || strings.Contains(t, "withdrawal") || strings.Contains(t, "charge")
}
