package models

import (
	"time"

	"github.com/google/uuid"
)

// FreePlanName is the fallback plan applied to users without an active
// subscription. Renewals never happen here; the webhook pipeline owns them.
const FreePlanName = "free"

// Plan defines a subscription tier and its quota limits.
// A limit of -1 means unlimited for that metric.
type Plan struct {
	ID                     uuid.UUID `db:"id"                       json:"id"`
	Name                   string    `db:"name"                     json:"name"`
	PricePence             int       `db:"price_pence"              json:"price_pence"`
	MonthlyGenerationLimit int       `db:"monthly_generation_limit" json:"monthly_generation_limit"`
	CardsPerSetLimit       int       `db:"cards_per_set_limit"      json:"cards_per_set_limit"`
	CreatedAt              time.Time `db:"created_at"               json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"               json:"updated_at"`
}

// Unlimited reports whether the plan has no monthly generation cap.
func (p *Plan) Unlimited() bool {
	return p.MonthlyGenerationLimit < 0
}
