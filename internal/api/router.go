// Package api exposes transactions, reports, the review queue and background
// jobs over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-ingest/internal/api/handlers"
	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
)

// Deps are the collaborators the routes are served from.
type Deps struct {
	Store       handlers.TransactionStore
	Manual      handlers.ManualAdder
	Reports     handlers.ReportService
	Suggestions handlers.SuggestionStore
	Review      handlers.ReviewService
	JobStore    jobs.JobStore
	Publisher   jobs.Publisher
	Log         zerolog.Logger
}

// NewRouter builds the HTTP handler with middleware applied.
func NewRouter(d Deps) http.Handler {
	transactionsHandler := handlers.NewTransactionsHandler(d.Store, d.Manual, d.Log)
	reportsHandler := handlers.NewReportsHandler(d.Reports, d.Suggestions, d.Log)
	reviewHandler := handlers.NewReviewHandler(d.Review, d.Log)
	jobsHandler := handlers.NewJobsHandler(d.JobStore, d.Publisher, d.Log)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Log))
	r.Use(middleware.RequestID(d.Log))
	r.Use(middleware.Logger(d.Log))
	r.Use(middleware.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/transactions", transactionsHandler.ListTransactions)
		r.Post("/transactions", transactionsHandler.CreateTransaction)
		r.Get("/runs", transactionsHandler.ListRuns)

		r.Get("/reports/monthly", reportsHandler.Monthly)
		r.Get("/reports/spending", reportsHandler.Spending)
		r.Get("/reports/categories", reportsHandler.Categories)
		r.Get("/reports/vendors", reportsHandler.Vendors)
		r.Get("/vendors/suggestions", reportsHandler.Suggestions)

		r.Get("/review/groups", reviewHandler.ListGroups)
		r.Post("/review/groups/{id}/decision", reviewHandler.Decide)
		r.Post("/review/scan", jobsHandler.Enqueue(jobs.JobTypeDuplicateScan))

		r.Post("/categorize", jobsHandler.Enqueue(jobs.JobTypeCategorize))

		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{id}", jobsHandler.GetJob)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	return r
}
