package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/dvloznov/ledger-ingest/internal/domain"
)

// ReviewService is the duplicate review workflow as seen by the API.
type ReviewService interface {
	Queue(ctx context.Context) ([]domain.PendingGroup, error)
	Review(ctx context.Context, groupID string, d domain.Decision) (*domain.ReviewAudit, error)
}

// GroupView is the JSON shape of an open review group.
type GroupView struct {
	GroupID      string            `json:"group_id"`
	Score        float64           `json:"similarity_score"`
	Reason       string            `json:"reason"`
	Origin       string            `json:"origin"`
	CreatedAt    time.Time         `json:"created_at"`
	Transactions []TransactionView `json:"transactions"`
}

// ReviewHandler handles duplicate review endpoints.
type ReviewHandler struct {
	review ReviewService
	log    zerolog.Logger
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(review ReviewService, log zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{review: review, log: log}
}

// ListGroups handles GET /api/review/groups
func (h *ReviewHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	pending, err := h.review.Queue(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list review groups")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list review groups")
		return
	}

	groups := make([]GroupView, 0, len(pending))
	for _, pg := range pending {
		groups = append(groups, GroupView{
			GroupID:      pg.Group.GroupID,
			Score:        pg.Group.SimilarityScore,
			Reason:       pg.Group.Reason,
			Origin:       string(pg.Group.Origin),
			CreatedAt:    pg.Group.CreatedAt,
			Transactions: transactionViews(pg.Transactions),
		})
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
		"count":  len(groups),
	})
}

type decisionRequest struct {
	Action   string `json:"action"`
	KeepID   int64  `json:"keep_id"`
	Notes    string `json:"notes"`
	Reviewer string `json:"reviewer"`
}

// Decide handles POST /api/review/groups/{id}/decision
func (h *ReviewHandler) Decide(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "id")
	if groupID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "Group ID is required")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	audit, err := h.review.Review(r.Context(), groupID, domain.Decision{
		Action:   domain.Action(req.Action),
		KeepID:   req.KeepID,
		Notes:    req.Notes,
		Reviewer: req.Reviewer,
	})
	if err != nil {
		status := reviewErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("group_id", groupID).Msg("Failed to apply review decision")
			middleware.WriteError(w, status, "Failed to apply review decision")
			return
		}
		middleware.WriteError(w, status, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"group_id":     audit.GroupID,
		"action":       audit.Action,
		"keep_id":      audit.KeepID,
		"reviewer":     audit.Reviewer,
		"affected_ids": audit.AffectedIDs,
		"audit_id":     audit.ID,
		"reviewed_at":  audit.At,
	})
}

// reviewErrorStatus maps workflow rejections onto HTTP statuses.
func reviewErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrKeepIDRequired),
		errors.Is(err, domain.ErrNotMember):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGroupNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
