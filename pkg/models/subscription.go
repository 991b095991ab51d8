package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

const (
	BillingIntervalMonth = "month"
	BillingIntervalYear  = "year"
)

// Subscription is one billing period for a user. ProviderSubscriptionID is
// the payment processor's id; it is unique and, once set, never changes —
// redelivered events for the same id reconcile the existing row instead of
// inserting a second one.
//
// Cancelled subscriptions keep access until PeriodEnd; the processor may
// still be retrying payment during that window.
type Subscription struct {
	ID                     uuid.UUID `db:"id"                       json:"id"`
	OwnerID                uuid.UUID `db:"owner_id"                 json:"owner_id"`
	PlanID                 uuid.UUID `db:"plan_id"                  json:"plan_id"`
	ProviderSubscriptionID *string   `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`
	BillingInterval        string    `db:"billing_interval"         json:"billing_interval"`
	PeriodStart            time.Time `db:"period_start"             json:"period_start"`
	PeriodEnd              time.Time `db:"period_end"               json:"period_end"`
	Status                 string    `db:"status"                   json:"status"`
	CreatedAt              time.Time `db:"created_at"               json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"               json:"updated_at"`
}

// ActiveAt reports whether the subscription grants access at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusCancelled {
		return false
	}
	return !t.Before(s.PeriodStart) && t.Before(s.PeriodEnd)
}
