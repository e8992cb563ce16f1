// Package report aggregates stored transactions into spending summaries:
// monthly totals, per-category and per-vendor breakdowns and spending trends.
// Outflows are negative amounts; every total here is reported as a positive
// magnitude.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// Uncategorized labels rows that carry no category yet.
	Uncategorized = "Uncategorized"

	// IncomeCategory collects every inflow in monthly and category reports.
	IncomeCategory = "Income"

	vendorLabelLen = 40
)

// ErrInvalidPeriod is returned for unknown period names or out-of-range months.
var ErrInvalidPeriod = errors.New("invalid period")

// Period is an inclusive date range. A zero bound is open.
type Period struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// Month returns the calendar month year-month.
func Month(year int, month time.Month) (Period, error) {
	if month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	start := civil.Date{Year: year, Month: month, Day: 1}
	next := civil.DateOf(time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC))
	return Period{Start: start, End: next.AddDays(-1)}, nil
}

// PreviousMonth returns the month before p.Start.
func PreviousMonth(p Period) Period {
	prev := civil.DateOf(time.Date(p.Start.Year, p.Start.Month-1, 1, 0, 0, 0, 0, time.UTC))
	out, _ := Month(prev.Year, prev.Month)
	return out
}

// ToDate returns the month, quarter or year containing today, up to today.
func ToDate(kind string, today civil.Date) (Period, string, error) {
	switch kind {
	case "", "month":
		return Period{Start: civil.Date{Year: today.Year, Month: today.Month, Day: 1}, End: today}, "This Month", nil
	case "quarter":
		first := time.Month((int(today.Month)-1)/3*3 + 1)
		return Period{Start: civil.Date{Year: today.Year, Month: first, Day: 1}, End: today}, "This Quarter", nil
	case "year":
		return Period{Start: civil.Date{Year: today.Year, Month: time.January, Day: 1}, End: today}, "This Year", nil
	}
	return Period{}, "", fmt.Errorf("%w: %q, expected month, quarter or year", ErrInvalidPeriod, kind)
}

// CategoryStat totals one category.
type CategoryStat struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
	Average  decimal.Decimal `json:"average"`
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Share    float64         `json:"share_pct"`
}

// VendorStat totals one vendor's outflows.
type VendorStat struct {
	Vendor   string          `json:"vendor"`
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
	Average  decimal.Decimal `json:"average"`
	Share    float64         `json:"share_pct"`
}

// Comparison relates a month to the one before it. The percentages are nil
// when the previous month had nothing to compare against.
type Comparison struct {
	Period           Period          `json:"period"`
	Income           decimal.Decimal `json:"income"`
	Expenses         decimal.Decimal `json:"expenses"`
	IncomeChange     decimal.Decimal `json:"income_change"`
	ExpenseChange    decimal.Decimal `json:"expense_change"`
	IncomeChangePct  *float64        `json:"income_change_pct,omitempty"`
	ExpenseChangePct *float64        `json:"expense_change_pct,omitempty"`
}

// MonthlySummary is the income, expense and category picture of one month.
type MonthlySummary struct {
	Period     Period          `json:"period"`
	Count      int             `json:"count"`
	Income     decimal.Decimal `json:"income"`
	Expenses   decimal.Decimal `json:"expenses"`
	Net        decimal.Decimal `json:"net"`
	Categories []CategoryStat  `json:"categories"`

	AvgDailySpend decimal.Decimal `json:"avg_daily_spend"`
	TopDay        string          `json:"top_day,omitempty"`
	TopDaySpend   decimal.Decimal `json:"top_day_spend"`
	ActiveDays    int             `json:"active_days"`

	Previous *Comparison `json:"previous,omitempty"`
}

// Trend compares the last two weeks of spending with the period's weekly
// average. Direction is up, down or stable.
type Trend struct {
	Direction     string          `json:"direction"`
	RecentWeekly  decimal.Decimal `json:"recent_weekly"`
	AverageWeekly decimal.Decimal `json:"average_weekly"`
}

// SpendingAnalysis describes outflows over a period, optionally restricted
// to one category.
type SpendingAnalysis struct {
	Period   Period          `json:"period"`
	Label    string          `json:"label"`
	Category string          `json:"category,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`

	AvgTransaction decimal.Decimal `json:"avg_transaction"`
	AvgDaily       decimal.Decimal `json:"avg_daily"`
	AvgWeekly      decimal.Decimal `json:"avg_weekly"`
	ActiveDays     int             `json:"active_days"`

	Categories []CategoryStat `json:"categories,omitempty"`
	TopVendors []VendorStat   `json:"top_vendors,omitempty"`
	Trend      *Trend         `json:"trend,omitempty"`
}

// Breakdown splits a period into income and the top expense categories.
type Breakdown struct {
	Period     Period          `json:"period"`
	Income     decimal.Decimal `json:"income"`
	Expenses   decimal.Decimal `json:"expenses"`
	Net        decimal.Decimal `json:"net"`
	Categories []CategoryStat  `json:"categories"`
}

// VendorAnalysis ranks vendors by outflow.
type VendorAnalysis struct {
	Period   Period          `json:"period"`
	Category string          `json:"category,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Unique   int             `json:"unique_vendors"`
	Vendors  []VendorStat    `json:"vendors"`
}

func categoryOf(t *domain.Transaction) string {
	if t.Category == "" {
		return Uncategorized
	}
	return t.Category
}

func vendorOf(t *domain.Transaction) string {
	if t.Vendor != "" {
		return t.Vendor
	}
	r := []rune(t.Description)
	if len(r) > vendorLabelLen {
		r = r[:vendorLabelLen]
	}
	return strings.TrimSpace(string(r))
}

// share is part/whole as a percentage rounded to one decimal place.
func share(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	return part.Div(whole).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
}

func average(total decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n))).Round(2)
}

// flows splits txns into total inflow and total outflow magnitude.
func flows(txns []*domain.Transaction) (income, expenses decimal.Decimal) {
	for _, t := range txns {
		if t.Amount.IsPositive() {
			income = income.Add(t.Amount)
		} else {
			expenses = expenses.Add(t.Amount.Abs())
		}
	}
	return income, expenses
}

// categoryStats totals the outflows of txns per category, largest first.
// Inflows are skipped.
func categoryStats(txns []*domain.Transaction, expenses decimal.Decimal) []CategoryStat {
	byName := make(map[string]*CategoryStat)
	for _, t := range txns {
		if t.Amount.IsPositive() {
			continue
		}
		amt := t.Amount.Abs()
		name := categoryOf(t)
		s, ok := byName[name]
		if !ok {
			s = &CategoryStat{Category: name, Min: amt, Max: amt}
			byName[name] = s
		}
		s.Total = s.Total.Add(amt)
		s.Count++
		if amt.LessThan(s.Min) {
			s.Min = amt
		}
		if amt.GreaterThan(s.Max) {
			s.Max = amt
		}
	}

	out := make([]CategoryStat, 0, len(byName))
	for _, s := range byName {
		s.Average = average(s.Total, s.Count)
		s.Share = share(s.Total, expenses)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// vendorStats totals the outflows of txns per vendor, largest first. Each
// vendor keeps the category of its first row.
func vendorStats(txns []*domain.Transaction) ([]VendorStat, decimal.Decimal) {
	var total decimal.Decimal
	byName := make(map[string]*VendorStat)
	for _, t := range txns {
		if !t.Amount.IsNegative() {
			continue
		}
		amt := t.Amount.Abs()
		total = total.Add(amt)
		name := vendorOf(t)
		s, ok := byName[name]
		if !ok {
			s = &VendorStat{Vendor: name, Category: categoryOf(t)}
			byName[name] = s
		}
		s.Total = s.Total.Add(amt)
		s.Count++
	}

	out := make([]VendorStat, 0, len(byName))
	for _, s := range byName {
		s.Average = average(s.Total, s.Count)
		s.Share = share(s.Total, total)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Vendor < out[j].Vendor
	})
	return out, total
}

func top[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}

// Monthly summarizes one month. prev, when non-nil, holds the previous
// month's rows for the comparison.
func Monthly(p Period, txns, prev []*domain.Transaction) *MonthlySummary {
	income, expenses := flows(txns)
	m := &MonthlySummary{
		Period:     p,
		Count:      len(txns),
		Income:     income,
		Expenses:   expenses,
		Net:        income.Sub(expenses),
		Categories: categoryStats(txns, expenses),
	}

	// Every day with a row counts towards the average, spending or not.
	daily := make(map[civil.Date]decimal.Decimal)
	for _, t := range txns {
		spend := daily[t.Date]
		if t.Amount.IsNegative() {
			spend = spend.Add(t.Amount.Abs())
		}
		daily[t.Date] = spend
	}
	var sum decimal.Decimal
	var topDay civil.Date
	for d, spend := range daily {
		sum = sum.Add(spend)
		if spend.IsPositive() {
			m.ActiveDays++
		}
		if spend.GreaterThan(m.TopDaySpend) || (spend.Equal(m.TopDaySpend) && spend.IsPositive() && d.Before(topDay)) {
			m.TopDaySpend, topDay = spend, d
		}
	}
	m.AvgDailySpend = average(sum, len(daily))
	if !topDay.IsZero() {
		m.TopDay = topDay.String()
	}

	if prev != nil {
		pi, pe := flows(prev)
		c := &Comparison{
			Period:        PreviousMonth(p),
			Income:        pi,
			Expenses:      pe,
			IncomeChange:  income.Sub(pi),
			ExpenseChange: expenses.Sub(pe),
		}
		if pi.IsPositive() {
			v := share(c.IncomeChange, pi)
			c.IncomeChangePct = &v
		}
		if pe.IsPositive() {
			v := share(c.ExpenseChange, pe)
			c.ExpenseChangePct = &v
		}
		m.Previous = c
	}
	return m
}

// Spending analyzes the outflows of txns. With category set only that
// category's rows count and the top five vendors are ranked instead of the
// categories.
func Spending(p Period, label, category string, txns []*domain.Transaction, withTrend bool) *SpendingAnalysis {
	a := &SpendingAnalysis{Period: p, Label: label, Category: category}

	var outflows []*domain.Transaction
	for _, t := range txns {
		if category != "" && t.Category != category {
			continue
		}
		if t.Amount.IsNegative() {
			outflows = append(outflows, t)
		}
	}

	daily := make(map[civil.Date]struct{})
	type week struct{ year, week int }
	weekly := make(map[week]decimal.Decimal)
	for _, t := range outflows {
		amt := t.Amount.Abs()
		a.Total = a.Total.Add(amt)
		daily[t.Date] = struct{}{}
		y, w := t.Date.In(time.UTC).ISOWeek()
		weekly[week{y, w}] = weekly[week{y, w}].Add(amt)
	}
	a.Count = len(outflows)
	a.ActiveDays = len(daily)
	a.AvgTransaction = average(a.Total, a.Count)
	a.AvgDaily = average(a.Total, len(daily))
	a.AvgWeekly = average(a.Total, len(weekly))

	if category != "" {
		vendors, _ := vendorStats(outflows)
		a.TopVendors = top(vendors, 5)
	} else {
		a.Categories = categoryStats(outflows, a.Total)
	}

	if withTrend && len(weekly) > 1 {
		keys := make([]week, 0, len(weekly))
		for k := range weekly {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].year != keys[j].year {
				return keys[i].year < keys[j].year
			}
			return keys[i].week < keys[j].week
		})
		recent := weekly[keys[len(keys)-1]].Add(weekly[keys[len(keys)-2]])
		tr := &Trend{
			Direction:     "stable",
			RecentWeekly:  average(recent, 2),
			AverageWeekly: a.AvgWeekly,
		}
		switch {
		case tr.RecentWeekly.GreaterThan(tr.AverageWeekly.Mul(decimal.RequireFromString("1.1"))):
			tr.Direction = "up"
		case tr.RecentWeekly.LessThan(tr.AverageWeekly.Mul(decimal.RequireFromString("0.9"))):
			tr.Direction = "down"
		}
		a.Trend = tr
	}
	return a
}

// Categories breaks txns down into income and the topN expense categories.
// topN <= 0 keeps every category.
func Categories(p Period, txns []*domain.Transaction, topN int) *Breakdown {
	income, expenses := flows(txns)
	return &Breakdown{
		Period:     p,
		Income:     income,
		Expenses:   expenses,
		Net:        income.Sub(expenses),
		Categories: top(categoryStats(txns, expenses), topN),
	}
}

// Vendors ranks the topN vendors of txns by outflow. topN <= 0 keeps all.
func Vendors(p Period, category string, txns []*domain.Transaction, topN int) *VendorAnalysis {
	vendors, total := vendorStats(txns)
	return &VendorAnalysis{
		Period:   p,
		Category: category,
		Total:    total,
		Unique:   len(vendors),
		Vendors:  top(vendors, topN),
	}
}
