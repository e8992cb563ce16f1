package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/infra/sqlite"
	"github.com/dvloznov/ledger-ingest/internal/report"
)

// ReportService computes the spending reports.
type ReportService interface {
	Monthly(ctx context.Context, year int, month time.Month, compare bool) (*report.MonthlySummary, error)
	Spending(ctx context.Context, period, category string, withTrend bool) (*report.SpendingAnalysis, error)
	Categories(ctx context.Context, p report.Period, topN int) (*report.Breakdown, error)
	Vendors(ctx context.Context, p report.Period, category string, topN int) (*report.VendorAnalysis, error)
}

// SuggestionStore finds frequent uncategorized vendors.
type SuggestionStore interface {
	VendorSuggestions(ctx context.Context, unmatchedNote string, minCount, limit int) ([]sqlite.VendorSuggestion, error)
}

// ReportsHandler handles reporting endpoints.
type ReportsHandler struct {
	reports     ReportService
	suggestions SuggestionStore
	log         zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(reports ReportService, suggestions SuggestionStore, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{reports: reports, suggestions: suggestions, log: log}
}

// intParam returns the named query parameter, def when it is absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// periodParams reads start_date and end_date.
func periodParams(r *http.Request) (report.Period, string) {
	var p report.Period
	var err error
	query := r.URL.Query()
	if s := query.Get("start_date"); s != "" {
		if p.Start, err = civil.ParseDate(s); err != nil {
			return p, "Invalid start_date format"
		}
	}
	if s := query.Get("end_date"); s != "" {
		if p.End, err = civil.ParseDate(s); err != nil {
			return p, "Invalid end_date format"
		}
	}
	if p.Start.IsValid() && p.End.IsValid() && p.End.Before(p.Start) {
		return p, "end_date is before start_date"
	}
	return p, ""
}

func (h *ReportsHandler) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, report.ErrInvalidPeriod) {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error().Err(err).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, msg)
}

// Monthly handles GET /api/reports/monthly
func (h *ReportsHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	year, err := intParam(r, "year", 0)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid year")
		return
	}
	month, err := intParam(r, "month", 0)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid month")
		return
	}
	compare, _ := strconv.ParseBool(r.URL.Query().Get("compare"))

	m, err := h.reports.Monthly(r.Context(), year, time.Month(month), compare)
	if err != nil {
		h.fail(w, err, "Failed to build monthly summary")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, m)
}

// Spending handles GET /api/reports/spending
func (h *ReportsHandler) Spending(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	trend, _ := strconv.ParseBool(query.Get("trend"))

	a, err := h.reports.Spending(r.Context(), query.Get("period"), query.Get("category"), trend)
	if err != nil {
		h.fail(w, err, "Failed to analyze spending")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, a)
}

// Categories handles GET /api/reports/categories
func (h *ReportsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	p, msg := periodParams(r)
	if msg != "" {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	top, err := intParam(r, "top", 10)
	if err != nil || top < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid top")
		return
	}

	b, err := h.reports.Categories(r.Context(), p, top)
	if err != nil {
		h.fail(w, err, "Failed to build category breakdown")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// Vendors handles GET /api/reports/vendors
func (h *ReportsHandler) Vendors(w http.ResponseWriter, r *http.Request) {
	p, msg := periodParams(r)
	if msg != "" {
		middleware.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	top, err := intParam(r, "top", 10)
	if err != nil || top < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid top")
		return
	}

	v, err := h.reports.Vendors(r.Context(), p, r.URL.Query().Get("category"), top)
	if err != nil {
		h.fail(w, err, "Failed to analyze vendors")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, v)
}

// Suggestions handles GET /api/vendors/suggestions
func (h *ReportsHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	minCount, err := intParam(r, "min_count", 2)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid min_count")
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	suggestions, err := h.suggestions.VendorSuggestions(r.Context(), categorize.UnmatchedNote, minCount, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list vendor suggestions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list vendor suggestions")
		return
	}
	if suggestions == nil {
		suggestions = []sqlite.VendorSuggestion{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}
