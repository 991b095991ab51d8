// Package quota implements the plan-limit admission gate for generation jobs.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/studycoach/internal/store"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// Decision is the outcome of an admission check. A denied decision is a
// normal negative result, distinct from transient store failures which
// surface as errors.
type Decision struct {
	Allowed     bool
	CurrentPlan string
	Limit       int
	Used        int
}

// Gate admits new generation jobs against the owner's plan quota.
type Gate struct {
	store store.Store
}

// NewGate creates a new Gate.
func NewGate(s store.Store) *Gate {
	return &Gate{store: s}
}

// Admit checks the owner's plan limit for the job's metric and, when
// allowed, creates the job and counts the usage unit in one transaction.
// On a denied decision nothing is written and job is not created.
//
// Owners without an active subscription fall back to the free plan; paid
// renewals are the webhook pipeline's business, never the gate's.
func (g *Gate) Admit(ctx context.Context, job *models.Job) (Decision, error) {
	plan, periodStart, err := g.resolvePlan(ctx, job.OwnerID)
	if err != nil {
		return Decision{}, err
	}

	used, err := g.store.AdmitJob(ctx, job, models.MetricGenerations, periodStart, plan.MonthlyGenerationLimit)
	if errors.Is(err, store.ErrQuotaExceeded) {
		return Decision{
			Allowed:     false,
			CurrentPlan: plan.Name,
			Limit:       plan.MonthlyGenerationLimit,
			Used:        used,
		}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("admit job: %w", err)
	}

	return Decision{
		Allowed:     true,
		CurrentPlan: plan.Name,
		Limit:       plan.MonthlyGenerationLimit,
		Used:        used,
	}, nil
}

// resolvePlan returns the owner's plan and the start of their current usage
// period. The period start anchors the usage counter row: the subscription's
// period start when one exists, otherwise the first of the current month.
func (g *Gate) resolvePlan(ctx context.Context, ownerID uuid.UUID) (*models.Plan, time.Time, error) {
	sub, err := g.store.GetActiveSubscription(ctx, ownerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, time.Time{}, fmt.Errorf("get active subscription: %w", err)
	}

	if sub != nil {
		plan, err := g.store.GetPlanByID(ctx, sub.PlanID)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("get plan %s: %w", sub.PlanID, err)
		}
		return plan, truncateToDate(sub.PeriodStart), nil
	}

	plan, err := g.store.GetPlanByName(ctx, models.FreePlanName)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get free plan: %w", err)
	}
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return plan, monthStart, nil
}

// truncateToDate drops the time-of-day component so subscriptions created
// with timestamp precision map to a single counter row per period.
func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
