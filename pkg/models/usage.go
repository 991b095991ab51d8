package models

import (
	"time"

	"github.com/google/uuid"
)

// Usage metrics counted against plan limits.
const (
	MetricGenerations = "generations"
)

// UsageCounter tracks how many units of a metric a user has consumed within
// one billing period. PeriodStart is a date so a subscription created with
// timestamp precision still maps to a single counter row.
//
// Increments happen in the same transaction that creates the corresponding
// job, so count never drifts from the number of admitted jobs.
type UsageCounter struct {
	OwnerID     uuid.UUID `db:"owner_id"     json:"owner_id"`
	Metric      string    `db:"metric"       json:"metric"`
	PeriodStart time.Time `db:"period_start" json:"period_start"`
	Count       int       `db:"count"        json:"count"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"   json:"updated_at"`
}
