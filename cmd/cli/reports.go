package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
	"github.com/dvloznov/ledger-ingest/internal/report"
)

func parseDay(flag, s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", flag, s)
	}
	return d, nil
}

func parseAmount(flag, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("--%s: invalid amount %q", flag, s)
	}
	return decimal.NewNullDecimal(d), nil
}

func parsePeriod(from, to string) (report.Period, error) {
	start, err := parseDay("from", from)
	if err != nil {
		return report.Period{}, err
	}
	end, err := parseDay("to", to)
	if err != nil {
		return report.Period{}, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return report.Period{}, fmt.Errorf("--to %s is before --from %s", end, start)
	}
	return report.Period{Start: start, End: end}, nil
}

type listCmd struct {
	From      string `help:"First day (YYYY-MM-DD)."`
	To        string `help:"Last day (YYYY-MM-DD)."`
	Category  string `help:"Exact category."`
	Vendor    string `help:"Vendor substring, case-insensitive."`
	Search    string `help:"Description substring, case-insensitive."`
	MinAmount string `name:"min-amount" help:"Smallest signed amount; write negatives as --min-amount=-10."`
	MaxAmount string `name:"max-amount" help:"Largest signed amount."`
	Sort      string `default:"date" enum:"date,amount,category" help:"Sort key: date, amount or category."`
	Asc       bool   `help:"Ascending order; newest or largest first otherwise."`
	Deleted   bool   `help:"Include soft-deleted rows."`
	Limit     int    `default:"100" help:"Maximum rows; 0 means all."`
}

type listView struct {
	Transactions []transactionView `json:"transactions"`
	Count        int               `json:"count"`
	Total        string            `json:"total"`
	Income       string            `json:"income"`
	Expenses     string            `json:"expenses"`
}

func (c *listCmd) Run(e *env) error {
	p, err := parsePeriod(c.From, c.To)
	if err != nil {
		return err
	}
	f := domain.TransactionFilter{
		Start:          p.Start,
		End:            p.End,
		Category:       c.Category,
		Vendor:         c.Vendor,
		Search:         c.Search,
		IncludeDeleted: c.Deleted,
		SortBy:         c.Sort,
		Desc:           !c.Asc,
		Limit:          c.Limit,
	}
	if f.MinAmount, err = parseAmount("min-amount", c.MinAmount); err != nil {
		return err
	}
	if f.MaxAmount, err = parseAmount("max-amount", c.MaxAmount); err != nil {
		return err
	}

	txns, err := e.repo.ListTransactions(e.ctx, f)
	if err != nil {
		return err
	}

	var total, income, expenses decimal.Decimal
	view := listView{Transactions: make([]transactionView, 0, len(txns)), Count: len(txns)}
	for _, t := range txns {
		view.Transactions = append(view.Transactions, newTransactionView(t))
		total = total.Add(t.Amount)
		if t.Amount.IsPositive() {
			income = income.Add(t.Amount)
		} else {
			expenses = expenses.Add(t.Amount.Abs())
		}
	}
	view.Total, view.Income, view.Expenses = total.StringFixed(2), income.StringFixed(2), expenses.StringFixed(2)
	if e.json {
		return e.printJSON(view)
	}

	if len(txns) == 0 {
		fmt.Fprintln(e.out, "No transactions match.")
		return nil
	}
	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tDESCRIPTION\tAMOUNT\tCATEGORY\tVENDOR")
	for _, t := range txns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Date, t.Description, t.Amount.StringFixed(2), t.Category, t.Vendor)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "\n%d row(s), total %s (income %s, expenses %s)\n", view.Count, view.Total, view.Income, view.Expenses)
	return nil
}

type addCmd struct {
	Date        string `arg:"" help:"Transaction day (YYYY-MM-DD)."`
	Description string `arg:"" help:"Description as it would appear on a statement."`
	Amount      string `arg:"" help:"Signed amount; negative for outflows. Put -- before the arguments when it is negative."`
	Category    string `help:"Category to assign."`
	Vendor      string `help:"Vendor name."`
	Account     string `help:"Account number or label."`
	TxnID       string `name:"txn-id" help:"Issuer transaction id."`
	Reference   string `help:"Check or confirmation number."`
	Notes       string `help:"Free-form notes."`
}

func (c *addCmd) Run(e *env) error {
	date, err := parseDay("date", c.Date)
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(c.Amount))
	if err != nil {
		return fmt.Errorf("invalid amount %q", c.Amount)
	}
	if c.Category != "" && !categorize.ValidCategory(c.Category) {
		return fmt.Errorf("unknown category %q; expected one of %s", c.Category, strings.Join(categorize.Categories, ", "))
	}

	in := pipeline.New(pipeline.Config{
		Store:     e.repo,
		Tolerance: decimal.NewFromFloat(e.cfg.AmountTolerance),
		Workers:   1,
	})
	res, err := in.AddManual(e.ctx, pipeline.ManualEntry{
		Date:        date,
		Description: c.Description,
		Amount:      amount,
		Account:     c.Account,
		TxnID:       c.TxnID,
		Reference:   c.Reference,
		Category:    c.Category,
		Vendor:      c.Vendor,
		Notes:       c.Notes,
	})
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(struct {
			*pipeline.ManualResult
			Transaction transactionView `json:"transaction"`
		}{res, newTransactionView(res.Transaction)})
	}
	if !res.Inserted {
		fmt.Fprintf(e.out, "Not added: matches a stored transaction (%s).\n", res.Duplicate)
		return nil
	}
	fmt.Fprintf(e.out, "Added transaction %d: %s %s %s.\n", res.Transaction.ID, res.Transaction.Date,
		res.Transaction.Description, res.Transaction.Amount.StringFixed(2))
	return nil
}

type reportCmd struct {
	Monthly    reportMonthlyCmd    `cmd:"" help:"Income, expenses and categories for one month."`
	Spending   reportSpendingCmd   `cmd:"" help:"Spending for the month, quarter or year to date."`
	Categories reportCategoriesCmd `cmd:"" help:"Top expense categories over a date range."`
	Vendors    reportVendorsCmd    `cmd:"" help:"Top vendors by spend."`
}

func (e *env) reports() *report.Service {
	return report.NewService(e.repo)
}

func writeCategories(e *env, cats []report.CategoryStat) error {
	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTOTAL\tSHARE\tCOUNT\tAVERAGE\tRANGE")
	for _, c := range cats {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%d\t%s\t%s - %s\n", c.Category, c.Total.StringFixed(2), c.Share, c.Count,
			c.Average.StringFixed(2), c.Min.StringFixed(2), c.Max.StringFixed(2))
	}
	return tw.Flush()
}

type reportMonthlyCmd struct {
	Year    int  `help:"Year; defaults to the current one."`
	Month   int  `help:"Month 1-12; defaults to the current one."`
	Compare bool `help:"Compare with the previous month."`
}

func (c *reportMonthlyCmd) Run(e *env) error {
	m, err := e.reports().Monthly(e.ctx, c.Year, time.Month(c.Month), c.Compare)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(m)
	}
	fmt.Fprintf(e.out, "Month:        %s .. %s\n", m.Period.Start, m.Period.End)
	fmt.Fprintf(e.out, "Transactions: %d\n", m.Count)
	fmt.Fprintf(e.out, "Income:       %s\n", m.Income.StringFixed(2))
	fmt.Fprintf(e.out, "Expenses:     %s\n", m.Expenses.StringFixed(2))
	fmt.Fprintf(e.out, "Net:          %s\n", m.Net.StringFixed(2))
	if m.TopDay != "" {
		fmt.Fprintf(e.out, "Daily spend:  %s average, top %s on %s, %d active day(s)\n",
			m.AvgDailySpend.StringFixed(2), m.TopDaySpend.StringFixed(2), m.TopDay, m.ActiveDays)
	}
	if p := m.Previous; p != nil {
		fmt.Fprintf(e.out, "vs %s:  expenses %s, income %s\n", p.Period.Start.String()[:7],
			p.ExpenseChange.StringFixed(2), p.IncomeChange.StringFixed(2))
	}
	if len(m.Categories) == 0 {
		return nil
	}
	fmt.Fprintln(e.out)
	return writeCategories(e, m.Categories)
}

type reportSpendingCmd struct {
	Period   string `default:"month" enum:"month,quarter,year" help:"month, quarter or year to date."`
	Category string `help:"Focus on one category and rank its vendors."`
	Trend    bool   `help:"Compare the last two weeks with the weekly average."`
}

func (c *reportSpendingCmd) Run(e *env) error {
	a, err := e.reports().Spending(e.ctx, c.Period, c.Category, c.Trend)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(a)
	}
	title := a.Label
	if a.Category != "" {
		title = a.Category + ", " + title
	}
	fmt.Fprintf(e.out, "%s: %s spent over %d transaction(s)\n", title, a.Total.StringFixed(2), a.Count)
	fmt.Fprintf(e.out, "Average: %s per transaction, %s per active day, %s per week\n",
		a.AvgTransaction.StringFixed(2), a.AvgDaily.StringFixed(2), a.AvgWeekly.StringFixed(2))
	if a.Trend != nil {
		fmt.Fprintf(e.out, "Trend: %s (last two weeks %s/week)\n", a.Trend.Direction, a.Trend.RecentWeekly.StringFixed(2))
	}
	if len(a.TopVendors) > 0 {
		fmt.Fprintln(e.out)
		return writeVendors(e, a.TopVendors)
	}
	if len(a.Categories) > 0 {
		fmt.Fprintln(e.out)
		return writeCategories(e, a.Categories)
	}
	return nil
}

type reportCategoriesCmd struct {
	From string `help:"First day (YYYY-MM-DD); both empty means the month to date."`
	To   string `help:"Last day (YYYY-MM-DD)."`
	Top  int    `default:"10" help:"Number of categories; 0 means all."`
}

func (c *reportCategoriesCmd) Run(e *env) error {
	p, err := parsePeriod(c.From, c.To)
	if err != nil {
		return err
	}
	b, err := e.reports().Categories(e.ctx, p, c.Top)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(b)
	}
	fmt.Fprintf(e.out, "Income %s, expenses %s, net %s\n\n", b.Income.StringFixed(2), b.Expenses.StringFixed(2), b.Net.StringFixed(2))
	return writeCategories(e, b.Categories)
}

type reportVendorsCmd struct {
	From     string `help:"First day (YYYY-MM-DD)."`
	To       string `help:"Last day (YYYY-MM-DD)."`
	Category string `help:"Only vendors within this category."`
	Top      int    `default:"10" help:"Number of vendors; 0 means all."`
}

func writeVendors(e *env, vendors []report.VendorStat) error {
	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "VENDOR\tTOTAL\tSHARE\tCOUNT\tAVERAGE\tCATEGORY")
	for _, v := range vendors {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%d\t%s\t%s\n", v.Vendor, v.Total.StringFixed(2), v.Share, v.Count,
			v.Average.StringFixed(2), v.Category)
	}
	return tw.Flush()
}

func (c *reportVendorsCmd) Run(e *env) error {
	p, err := parsePeriod(c.From, c.To)
	if err != nil {
		return err
	}
	v, err := e.reports().Vendors(e.ctx, p, c.Category, c.Top)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(v)
	}
	fmt.Fprintf(e.out, "%d vendor(s), %s spent\n\n", v.Unique, v.Total.StringFixed(2))
	return writeVendors(e, v.Vendors)
}

type vendorSuggestCmd struct {
	MinCount int `name:"min-count" default:"2" help:"Only vendors seen at least this often."`
	Limit    int `default:"20" help:"Maximum suggestions."`
}

func (c *vendorSuggestCmd) Run(e *env) error {
	suggestions, err := e.repo.VendorSuggestions(e.ctx, categorize.UnmatchedNote, c.MinCount, c.Limit)
	if err != nil {
		return err
	}
	if e.json {
		return e.printJSON(suggestions)
	}
	if len(suggestions) == 0 {
		fmt.Fprintln(e.out, "No suggestions: every frequent vendor is already categorized.")
		return nil
	}
	tw := tabwriter.NewWriter(e.out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "VENDOR\tCOUNT\tAVG AMOUNT\tFIRST\tLAST\tSAMPLE")
	for _, s := range suggestions {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\t%s\t%s\n", s.Vendor, s.Count, s.AvgAmount, s.FirstSeen, s.LastSeen, s.Samples[0])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "\nAdd a rule with: vendor add PATTERN CATEGORY")
	return nil
}
