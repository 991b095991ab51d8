package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrQuotaExceeded means the usage counter is at the plan limit. It is a
	// normal negative result for admission, not a system failure.
	ErrQuotaExceeded = errors.New("plan quota exceeded")

	// ErrJobNotClaimable means the job was not in pending state when a runner
	// tried to claim it (already claimed, already terminal, or missing).
	ErrJobNotClaimable = errors.New("job not claimable")

	// ErrStaleTransition means a terminal write conflicted with a different
	// terminal state already recorded, e.g. a late runner result arriving
	// after the watchdog failed the job. Re-applying the same terminal
	// outcome is a no-op and does not produce this error.
	ErrStaleTransition = errors.New("stale job transition")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
	GetPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)

	GetActiveSubscription(ctx context.Context, ownerID uuid.UUID) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	ExtendSubscriptionPeriod(ctx context.Context, providerSubID string, periodStart, periodEnd time.Time) error
	CancelSubscription(ctx context.Context, providerSubID string) error

	// AdmitJob atomically increments the owner's usage counter for metric and
	// inserts the job, in one transaction. If the counter is already at limit
	// the transaction leaves no trace and ErrQuotaExceeded is returned along
	// with the current count. A negative limit means unlimited.
	AdmitJob(ctx context.Context, job *models.Job, metric string, periodStart time.Time, limit int) (used int, err error)

	GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error)

	// ClaimJob transitions pending -> processing. The claim is exclusive: the
	// update is conditioned on the prior status, so two runners can never
	// both claim the same job.
	ClaimJob(ctx context.Context, id uuid.UUID) error

	// CompleteJob transitions processing -> completed with the result payload
	// attached in the same write. Completing an already-completed job is a
	// no-op; completing a job the watchdog failed returns ErrStaleTransition.
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// FailJob transitions processing -> failed with the reason attached.
	// Same idempotency rules as CompleteJob.
	FailJob(ctx context.Context, id uuid.UUID, reason string) error

	// ReclaimStuckJobs force-fails processing jobs not updated since cutoff
	// and returns their ids.
	ReclaimStuckJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
