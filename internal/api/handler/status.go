package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/studycoach/internal/api/middleware"
	"github.com/kiranshivaraju/studycoach/internal/api/response"
	"github.com/kiranshivaraju/studycoach/internal/store"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// JobReader loads a job scoped to its owner.
type JobReader interface {
	GetJob(ctx context.Context, id, ownerID uuid.UUID) (*models.Job, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/generations/{jobID}.
//
// A job that exists but belongs to another user answers the same 404 as a
// job that does not exist, so the endpoint leaks nothing about other
// users' jobs.
func NewStatusHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID must be a valid UUID", nil)
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID, userID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
				"No such generation job", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load generation job", nil)
			return
		}

		resp := jobStatusResponse{
			ID:        job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		}
		if job.StartedAt != nil {
			s := job.StartedAt.UTC().Format(time.RFC3339)
			resp.StartedAt = &s
		}
		if job.CompletedAt != nil {
			c := job.CompletedAt.UTC().Format(time.RFC3339)
			resp.CompletedAt = &c
		}
		switch job.Status {
		case models.JobStatusCompleted:
			resp.Result = job.Result
		case models.JobStatusFailed:
			resp.FailureReason = job.FailureReason
		}

		response.JSON(w, resp)
	}
}

type jobStatusResponse struct {
	ID            uuid.UUID       `json:"id"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
	StartedAt     *string         `json:"started_at,omitempty"`
	CompletedAt   *string         `json:"completed_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
}
