// Package billing ingests payment-processor webhook events and applies
// them idempotently to subscription state.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/studycoach/internal/cache"
	"github.com/kiranshivaraju/studycoach/internal/store"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

var (
	// ErrInvalidPayload means the event body could not be decoded. Never
	// retried; redelivery of the same bytes cannot succeed.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrMissingMetadata means the event lacks fields our checkout flow is
	// supposed to attach (owner id, plan id). A configuration/integration
	// error, not a transient one.
	ErrMissingMetadata = errors.New("missing event metadata")
)

// Config holds ingestor tunables.
type Config struct {
	WebhookSecret      string
	SignatureTolerance time.Duration
	EventRetention     time.Duration
}

// Ingestor verifies, deduplicates, and dispatches webhook events.
//
// Exactly-once delivery from the processor is not controllable; the
// contract here is idempotent handling of at-least-once delivery. The
// dedup store short-circuits replays, and every handler is additionally
// idempotent on its own (keyed upserts), so a crash between handling and
// recording an event id is still safe.
type Ingestor struct {
	store store.Store
	dedup cache.Cache
	cfg   Config
}

// NewIngestor creates a new Ingestor.
func NewIngestor(s store.Store, dedup cache.Cache, cfg Config) *Ingestor {
	return &Ingestor{store: s, dedup: dedup, cfg: cfg}
}

// Ingest processes one raw webhook delivery. A nil return means accepted:
// the processor must not redeliver. ErrInvalidSignature, ErrInvalidPayload
// and ErrMissingMetadata are rejections the caller maps to a non-retrying
// client error; any other error is transient and the caller must answer
// with a retryable status so the processor delivers again.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, sigHeader string) error {
	if err := VerifySignature(body, sigHeader, i.cfg.WebhookSecret, i.cfg.SignatureTolerance, time.Now()); err != nil {
		return err
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return fmt.Errorf("%w: event id and type are required", ErrInvalidPayload)
	}

	seen, err := i.dedup.SeenEvent(ctx, evt.ID)
	if err != nil {
		return fmt.Errorf("check event dedup: %w", err)
	}
	if seen {
		slog.Info("webhook event replayed, skipping", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	if err := i.dispatch(ctx, &evt); err != nil {
		// Not recorded as processed: a transient failure must stay eligible
		// for the processor's redelivery.
		return err
	}

	if err := i.dedup.MarkEventProcessed(ctx, evt.ID, i.cfg.EventRetention); err != nil {
		// The handler already committed; a redelivery will be reconciled by
		// the handler's own idempotency.
		slog.Warn("recording processed event failed", "error", err, "event_id", evt.ID)
	}
	return nil
}

func (i *Ingestor) dispatch(ctx context.Context, evt *Event) error {
	slog.Info("webhook event received", "event_id", evt.ID, "type", evt.Type)

	switch evt.Type {
	case EventCheckoutCompleted:
		return i.handleCheckoutCompleted(ctx, evt)
	case EventInvoicePaid:
		return i.handleInvoicePaid(ctx, evt)
	case EventSubscriptionDeleted:
		return i.handleSubscriptionDeleted(ctx, evt)
	default:
		slog.Info("unhandled webhook event type", "type", evt.Type)
		return nil
	}
}

// handleCheckoutCompleted activates a subscription after payment. The
// provider subscription id is the reconciliation key: redeliveries update
// the same row instead of inserting a second one.
func (i *Ingestor) handleCheckoutCompleted(ctx context.Context, evt *Event) error {
	var session CheckoutSession
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	rawOwner := session.Metadata["owner_id"]
	planID := session.Metadata["plan_id"]
	if rawOwner == "" || planID == "" {
		return fmt.Errorf("%w: owner_id and plan_id are required in session metadata", ErrMissingMetadata)
	}
	ownerID, err := uuid.Parse(rawOwner)
	if err != nil {
		return fmt.Errorf("%w: owner_id %q is not a UUID", ErrMissingMetadata, rawOwner)
	}
	if session.Subscription == "" {
		return fmt.Errorf("%w: session %s has no subscription id", ErrMissingMetadata, session.ID)
	}

	plan, err := i.lookupPlan(ctx, planID)
	if err != nil {
		return err
	}

	interval := deriveBillingInterval(session.Metadata["billing_interval"], plan.Name)
	periodStart := time.Unix(evt.Created, 0).UTC()
	periodEnd := periodStart.AddDate(0, 1, 0)
	if interval == models.BillingIntervalYear {
		periodEnd = periodStart.AddDate(1, 0, 0)
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:                     uuid.New(),
		OwnerID:                ownerID,
		PlanID:                 plan.ID,
		ProviderSubscriptionID: &session.Subscription,
		BillingInterval:        interval,
		PeriodStart:            periodStart,
		PeriodEnd:              periodEnd,
		Status:                 models.SubscriptionStatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	result, err := i.store.UpsertSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	slog.Info("subscription activated",
		"subscription_id", result.ID,
		"owner_id", ownerID,
		"plan", plan.Name,
		"interval", interval)
	return nil
}

// handleInvoicePaid extends a recurring subscription to the invoice's
// billing period. The subscription row may not exist yet when the
// processor delivers the invoice before the checkout event; returning the
// not-found error keeps the delivery retryable until checkout lands.
func (i *Ingestor) handleInvoicePaid(ctx context.Context, evt *Event) error {
	var inv Invoice
	if err := json.Unmarshal(evt.Data.Object, &inv); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if inv.Subscription == "" {
		// One-off invoices carry no subscription; nothing to extend.
		slog.Info("invoice without subscription, ignoring", "invoice_id", inv.ID)
		return nil
	}
	if inv.PeriodStart == 0 || inv.PeriodEnd == 0 {
		return fmt.Errorf("%w: invoice %s has no period bounds", ErrMissingMetadata, inv.ID)
	}

	start := time.Unix(inv.PeriodStart, 0).UTC()
	end := time.Unix(inv.PeriodEnd, 0).UTC()
	if err := i.store.ExtendSubscriptionPeriod(ctx, inv.Subscription, start, end); err != nil {
		return fmt.Errorf("extend subscription %s: %w", inv.Subscription, err)
	}

	slog.Info("subscription period extended", "provider_subscription_id", inv.Subscription,
		"period_end", end)
	return nil
}

// handleSubscriptionDeleted marks the subscription cancelled. The user
// keeps access until period end. A missing row means we never saw the
// subscription; cancelling it is a no-op, not a failure.
func (i *Ingestor) handleSubscriptionDeleted(ctx context.Context, evt *Event) error {
	var obj SubscriptionObject
	if err := json.Unmarshal(evt.Data.Object, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if obj.ID == "" {
		return fmt.Errorf("%w: subscription object has no id", ErrInvalidPayload)
	}

	err := i.store.CancelSubscription(ctx, obj.ID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("cancellation for unknown subscription", "provider_subscription_id", obj.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel subscription %s: %w", obj.ID, err)
	}

	slog.Info("subscription cancelled", "provider_subscription_id", obj.ID)
	return nil
}

// lookupPlan resolves the metadata plan_id, which is a plan name for
// catalog plans and may be a raw UUID for plans created programmatically.
func (i *Ingestor) lookupPlan(ctx context.Context, planID string) (*models.Plan, error) {
	if id, err := uuid.Parse(planID); err == nil {
		plan, err := i.store.GetPlanByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown plan %q", ErrMissingMetadata, planID)
		}
		return plan, err
	}

	plan, err := i.store.GetPlanByName(ctx, planID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrMissingMetadata, planID)
	}
	return plan, err
}
