package report

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/logger"
)

// Lister reads live stored transactions.
type Lister interface {
	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error)
}

// Service loads the rows a report needs and aggregates them.
type Service struct {
	store Lister
	today func() civil.Date
}

// NewService creates a Service reading from store.
func NewService(store Lister) *Service {
	return &Service{store: store, today: func() civil.Date { return civil.DateOf(time.Now()) }}
}

// SetToday overrides the current date, for tests.
func (s *Service) SetToday(today func() civil.Date) {
	s.today = today
}

func (s *Service) list(ctx context.Context, p Period, category string) ([]*domain.Transaction, error) {
	txns, err := s.store.ListTransactions(ctx, domain.TransactionFilter{Start: p.Start, End: p.End, Category: category})
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Str("start", p.Start.String()).
		Str("end", p.End.String()).
		Str("category", category).
		Int("rows", len(txns)).
		Msg("Loaded rows for report")
	return txns, nil
}

// Monthly summarizes year-month. A zero year or month means the current one.
func (s *Service) Monthly(ctx context.Context, year int, month time.Month, compare bool) (*MonthlySummary, error) {
	today := s.today()
	if year == 0 {
		year = today.Year
	}
	if month == 0 {
		month = today.Month
	}
	p, err := Month(year, month)
	if err != nil {
		return nil, fmt.Errorf("Monthly: %w", err)
	}

	txns, err := s.list(ctx, p, "")
	if err != nil {
		return nil, fmt.Errorf("Monthly: %w", err)
	}
	var prev []*domain.Transaction
	if compare {
		if prev, err = s.list(ctx, PreviousMonth(p), ""); err != nil {
			return nil, fmt.Errorf("Monthly: previous month: %w", err)
		}
		if prev == nil {
			prev = []*domain.Transaction{}
		}
	}
	return Monthly(p, txns, prev), nil
}

// Spending analyzes the month, quarter or year to date.
func (s *Service) Spending(ctx context.Context, period, category string, withTrend bool) (*SpendingAnalysis, error) {
	p, label, err := ToDate(period, s.today())
	if err != nil {
		return nil, fmt.Errorf("Spending: %w", err)
	}
	txns, err := s.list(ctx, p, category)
	if err != nil {
		return nil, fmt.Errorf("Spending: %w", err)
	}
	return Spending(p, label, category, txns, withTrend), nil
}

// Categories breaks p down by category. A fully open p means the current
// month to date.
func (s *Service) Categories(ctx context.Context, p Period, topN int) (*Breakdown, error) {
	if p.Start.IsZero() && p.End.IsZero() {
		p, _, _ = ToDate("month", s.today())
	}
	txns, err := s.list(ctx, p, "")
	if err != nil {
		return nil, fmt.Errorf("Categories: %w", err)
	}
	return Categories(p, txns, topN), nil
}

// Vendors ranks vendors within p and, when set, one category.
func (s *Service) Vendors(ctx context.Context, p Period, category string, topN int) (*VendorAnalysis, error) {
	txns, err := s.list(ctx, p, category)
	if err != nil {
		return nil, fmt.Errorf("Vendors: %w", err)
	}
	return Vendors(p, category, txns, topN), nil
}
