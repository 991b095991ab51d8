package billing

import (
	"encoding/json"
	"strings"

	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// Event types handled by the ingestor. Anything else is acknowledged and
// ignored so the processor stops redelivering it.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is the processor's webhook envelope. Data.Object is decoded per
// event type by the matching handler.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the object payload of checkout.session.completed.
// Metadata is set by our checkout-creation flow, so missing keys are an
// integration bug on our side, not a transient condition.
type CheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// Invoice is the object payload of invoice.payment_succeeded. Period
// bounds are unix seconds.
type Invoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
}

// SubscriptionObject is the object payload of customer.subscription events.
type SubscriptionObject struct {
	ID string `json:"id"`
}

// deriveBillingInterval picks the billing interval for a new subscription:
// an explicit metadata value wins, otherwise annual-looking plan names map
// to yearly billing and everything else is monthly.
func deriveBillingInterval(metadataInterval, planName string) string {
	switch metadataInterval {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return metadataInterval
	}
	lower := strings.ToLower(planName)
	if strings.Contains(lower, "annual") || strings.Contains(lower, "year") {
		return models.BillingIntervalYear
	}
	return models.BillingIntervalMonth
}
