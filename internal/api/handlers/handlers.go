package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/dvloznov/ledger-ingest/internal/categorize"
	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/dvloznov/ledger-ingest/internal/pipeline"
)

// TransactionStore is the read side the transaction and run endpoints need.
type TransactionStore interface {
	ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.RunLog, error)
}

// ManualAdder stores hand-entered transactions through the dedup pipeline.
type ManualAdder interface {
	AddManual(ctx context.Context, e pipeline.ManualEntry) (*pipeline.ManualResult, error)
}

// TransactionView is the JSON shape of a stored transaction.
type TransactionView struct {
	ID             int64   `json:"id"`
	Date           string  `json:"date"`
	Description    string  `json:"description"`
	Amount         string  `json:"amount"`
	Balance        *string `json:"balance,omitempty"`
	Source         string  `json:"source,omitempty"`
	TxnID          string  `json:"txn_id,omitempty"`
	Reference      string  `json:"reference,omitempty"`
	Time           string  `json:"time,omitempty"`
	Account        string  `json:"account,omitempty"`
	Category       string  `json:"category,omitempty"`
	Vendor         string  `json:"vendor,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	ContentHash    string  `json:"content_hash"`
	Deleted        bool    `json:"deleted,omitempty"`
	DeletionReason string  `json:"deletion_reason,omitempty"`
}

// NewTransactionView converts t for JSON output.
func NewTransactionView(t *domain.Transaction) TransactionView {
	v := TransactionView{
		ID:             t.ID,
		Date:           t.Date.String(),
		Description:    t.Description,
		Amount:         t.Amount.StringFixed(2),
		Source:         t.Source,
		TxnID:          t.TxnID,
		Reference:      t.Reference,
		Time:           t.TimePart,
		Account:        t.Account,
		Category:       t.Category,
		Vendor:         t.Vendor,
		Notes:          t.Notes,
		ContentHash:    t.ContentHash,
		Deleted:        t.Deleted(),
		DeletionReason: t.DeletionReason,
	}
	if t.Balance.Valid {
		b := t.Balance.Decimal.StringFixed(2)
		v.Balance = &b
	}
	return v
}

func transactionViews(txns []*domain.Transaction) []TransactionView {
	out := make([]TransactionView, 0, len(txns))
	for _, t := range txns {
		out = append(out, NewTransactionView(t))
	}
	return out
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	repo   TransactionStore
	manual ManualAdder
	log    zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo TransactionStore, manual ManualAdder, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		repo:   repo,
		manual: manual,
		log:    log,
	}
}

func amountParam(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var f domain.TransactionFilter
	var err error
	if s := query.Get("start_date"); s != "" {
		if f.Start, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
	}
	if s := query.Get("end_date"); s != "" {
		if f.End, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
	}
	if f.Start.IsValid() && f.End.IsValid() && f.End.Before(f.Start) {
		middleware.WriteError(w, http.StatusBadRequest, "end_date is before start_date")
		return
	}
	f.IncludeDeleted, _ = strconv.ParseBool(query.Get("include_deleted"))
	f.UncategorizedOnly, _ = strconv.ParseBool(query.Get("uncategorized"))
	f.Category = query.Get("category")
	f.Vendor = query.Get("vendor")
	f.Search = query.Get("search")
	if f.MinAmount, err = amountParam(query.Get("min_amount")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid min_amount")
		return
	}
	if f.MaxAmount, err = amountParam(query.Get("max_amount")); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid max_amount")
		return
	}
	if f.SortBy = query.Get("sort"); f.SortBy != "" && !domain.ValidSort(f.SortBy) {
		middleware.WriteError(w, http.StatusBadRequest, "sort must be date, amount or category")
		return
	}
	f.Desc, _ = strconv.ParseBool(query.Get("desc"))
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}

	txns, err := h.repo.ListTransactions(ctx, f)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, transactionViews(txns))
}

type manualRequest struct {
	Date        string           `json:"date"`
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Account     string           `json:"account"`
	TxnID       string           `json:"txn_id"`
	Reference   string           `json:"reference"`
	Category    string           `json:"category"`
	Vendor      string           `json:"vendor"`
	Notes       string           `json:"notes"`
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	date, err := civil.ParseDate(req.Date)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid date format")
		return
	}
	if req.Amount == nil {
		middleware.WriteError(w, http.StatusBadRequest, "amount is required")
		return
	}
	if req.Category != "" && !categorize.ValidCategory(req.Category) {
		middleware.WriteError(w, http.StatusBadRequest, "Unknown category")
		return
	}

	res, err := h.manual.AddManual(r.Context(), pipeline.ManualEntry{
		Date:        date,
		Description: req.Description,
		Amount:      *req.Amount,
		Account:     req.Account,
		TxnID:       req.TxnID,
		Reference:   req.Reference,
		Category:    req.Category,
		Vendor:      req.Vendor,
		Notes:       req.Notes,
	})
	if errors.Is(err, domain.ErrInvalidTransaction) {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to add transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to add transaction")
		return
	}

	status := http.StatusOK
	if res.Inserted {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, map[string]interface{}{
		"run_id":      res.RunID,
		"inserted":    res.Inserted,
		"duplicate":   res.Duplicate,
		"transaction": NewTransactionView(res.Transaction),
	})
}

// ListRuns handles GET /api/runs
func (h *TransactionsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, NewRunView(run))
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  views,
		"count": len(views),
	})
}

// RunView is the JSON shape of a processing log entry.
type RunView struct {
	ID          int64                  `json:"id"`
	Operation   string                 `json:"operation"`
	SourceFile  string                 `json:"source_file,omitempty"`
	Status      domain.RunStatus       `json:"status"`
	Processed   int                    `json:"records_processed"`
	Inserted    int                    `json:"records_inserted"`
	Updated     int                    `json:"records_updated"`
	Skipped     int                    `json:"records_skipped"`
	Errors      int                    `json:"errors"`
	Details     map[string]interface{} `json:"details,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// NewRunView converts a run log entry for JSON output.
func NewRunView(r *domain.RunLog) RunView {
	return RunView{
		ID:          r.ID,
		Operation:   r.Operation,
		SourceFile:  r.SourceFile,
		Status:      r.Status,
		Processed:   r.Processed,
		Inserted:    r.Inserted,
		Updated:     r.Updated,
		Skipped:     r.Skipped,
		Errors:      r.Errors,
		Details:     r.Details,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}
