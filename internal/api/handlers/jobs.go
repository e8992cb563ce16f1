package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-ingest/internal/api/middleware"
	"github.com/dvloznov/ledger-ingest/internal/jobs"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// Enqueue returns a handler that publishes a job of type t with the
// optional JSON body as parameters. It serves POST /api/review/scan and
// POST /api/categorize.
func (h *JobsHandler) Enqueue(t jobs.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params jobs.Params
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if params.AsOf != "" {
			if _, err := civil.ParseDate(params.AsOf); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "Invalid as_of format")
				return
			}
		}
		if params.Limit < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must not be negative")
			return
		}

		job := &jobs.Job{Type: t, Params: params}
		if err := h.publisher.Publish(r.Context(), job); err != nil {
			h.log.Error().Err(err).Str("job_type", string(t)).Msg("Failed to enqueue job")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
			return
		}

		h.log.Info().Str("job_id", job.JobID).Str("job_type", string(t)).Msg("Job enqueued")

		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
			"job_id": job.JobID,
			"type":   string(job.Type),
			"status": string(job.Status),
		})
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.Job{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
