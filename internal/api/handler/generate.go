package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/studycoach/internal/api/middleware"
	"github.com/kiranshivaraju/studycoach/internal/api/response"
	"github.com/kiranshivaraju/studycoach/internal/quota"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

const (
	defaultNumCards = 10
	minNumCards     = 3
	maxNumCards     = 30

	maxContextChars = 20000
)

// Admitter decides whether a job may enter the system, charging the
// owner's quota when it may.
type Admitter interface {
	Admit(ctx context.Context, job *models.Job) (quota.Decision, error)
}

// Dispatcher hands an admitted job to the background runner.
type Dispatcher interface {
	Dispatch(job *models.Job)
}

// NewGenerateHandler returns an http.HandlerFunc for POST /api/v1/generations.
func NewGenerateHandler(gate Admitter, dispatcher Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			MaterialTitle string `json:"material_title"`
			Context       string `json:"context"`
			Topic         string `json:"topic"`
			Difficulty    string `json:"difficulty"`
			NumCards      int    `json:"num_cards"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Context == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "context is required", nil)
			return
		}
		if len(req.Context) > maxContextChars {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"context exceeds the maximum length", nil)
			return
		}

		difficulty := req.Difficulty
		if difficulty == "" {
			difficulty = models.DifficultyMedium
		}
		if !models.ValidDifficulty(difficulty) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"difficulty must be one of easy, medium, hard", nil)
			return
		}

		numCards := req.NumCards
		if numCards == 0 {
			numCards = defaultNumCards
		}
		if numCards < minNumCards || numCards > maxNumCards {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"num_cards must be between 3 and 30", nil)
			return
		}

		params, err := json.Marshal(models.GenerationParams{
			MaterialTitle: req.MaterialTitle,
			Context:       req.Context,
			Topic:         req.Topic,
			Difficulty:    difficulty,
			NumCards:      numCards,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:        uuid.New(),
			OwnerID:   userID,
			Kind:      models.JobKindFlashCards,
			Status:    models.JobStatusPending,
			Params:    params,
			CreatedAt: now,
			UpdatedAt: now,
		}

		decision, err := gate.Admit(r.Context(), job)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create generation job", nil)
			return
		}
		if !decision.Allowed {
			response.Error(w, http.StatusForbidden, "PLAN_LIMIT_EXCEEDED",
				"Monthly generation limit reached for your plan",
				planLimitDetails{
					CurrentPlan: decision.CurrentPlan,
					Limit: limitDetails{
						Metric: models.MetricGenerations,
						Limit:  decision.Limit,
						Used:   decision.Used,
					},
				})
			return
		}

		dispatcher.Dispatch(job)

		response.Accepted(w, jobAcceptedResponse{
			ID:     job.ID,
			Status: job.Status,
		})
	}
}

type jobAcceptedResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

type planLimitDetails struct {
	CurrentPlan string       `json:"current_plan"`
	Limit       limitDetails `json:"limit"`
}

type limitDetails struct {
	Metric string `json:"metric"`
	Limit  int    `json:"limit"`
	Used   int    `json:"used"`
}
