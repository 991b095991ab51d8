package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job kinds. Only flash-card generation is wired today; the column exists so
// other generation work (notes, assessments) can share the table later.
const (
	JobKindFlashCards = "flash_cards"
)

// Failure reasons recorded on failed jobs. These are stable strings exposed
// to clients; operators use them to tell configuration bugs from outages.
const (
	FailureUpstreamTimeout = "upstream-timeout"
	FailureMalformedOutput = "malformed-output"
	FailureUpstreamError   = "upstream-error"
	FailureInternal        = "internal-error"
)

// Job tracks one unit of async generation work. The API returns a job id on
// POST /api/v1/generations; the client polls GET /api/v1/generations/{id}
// until status is completed or failed.
//
// Status only moves pending -> processing -> completed|failed. Result is set
// iff completed, FailureReason iff failed. Transitions are compare-and-swap
// writes in the store so a stale runner can never overwrite a terminal state.
type Job struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	OwnerID       uuid.UUID       `db:"owner_id"       json:"owner_id"`
	Kind          string          `db:"kind"           json:"kind"`
	Status        string          `db:"status"         json:"status"`
	Params        json.RawMessage `db:"params"         json:"params,omitempty"`
	Result        json.RawMessage `db:"result"         json:"result,omitempty"`
	FailureReason *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	StartedAt     *time.Time      `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at"   json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"     json:"updated_at"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// GenerationParams is the decoded shape of Job.Params for flash-card jobs.
type GenerationParams struct {
	MaterialTitle string `json:"material_title,omitempty"`
	Context       string `json:"context"`
	Topic         string `json:"topic,omitempty"`
	Difficulty    string `json:"difficulty"`
	NumCards      int    `json:"num_cards"`
}
