package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, last_used_at, revoked_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Plans ---

const planColumns = `id, name, price_pence, monthly_generation_limit, cards_per_set_limit, created_at, updated_at`

func (s *PostgresStore) GetPlanByName(ctx context.Context, name string) (*models.Plan, error) {
	return s.scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE name = $1`, name))
}

func (s *PostgresStore) GetPlanByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
}

func (s *PostgresStore) scanPlan(row pgx.Row) (*models.Plan, error) {
	var p models.Plan
	err := row.Scan(&p.ID, &p.Name, &p.PricePence, &p.MonthlyGenerationLimit,
		&p.CardsPerSetLimit, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &p, nil
}

// --- Subscriptions ---

const subscriptionColumns = `id, owner_id, plan_id, provider_subscription_id, billing_interval,
	 period_start, period_end, status, created_at, updated_at`

// GetActiveSubscription returns the subscription covering now, if any.
// Cancelled subscriptions still count: the user keeps access until period
// end while the provider may be retrying payment.
func (s *PostgresStore) GetActiveSubscription(ctx context.Context, ownerID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE owner_id = $1
		   AND period_start <= NOW() AND period_end > NOW()
		   AND status IN ('active', 'cancelled')
		 ORDER BY period_end DESC LIMIT 1`, ownerID,
	).Scan(&sub.ID, &sub.OwnerID, &sub.PlanID, &sub.ProviderSubscriptionID, &sub.BillingInterval,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return &sub, nil
}

// UpsertSubscription inserts a subscription or, when a row for the same
// provider_subscription_id already exists, reconciles it in place. The
// provider id is the idempotency key: redelivered checkout events update
// the one existing row instead of creating a duplicate.
func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	var result models.Subscription
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions
		   (id, owner_id, plan_id, provider_subscription_id, billing_interval, period_start, period_end, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (provider_subscription_id) DO UPDATE SET
		   plan_id = EXCLUDED.plan_id,
		   billing_interval = EXCLUDED.billing_interval,
		   period_start = EXCLUDED.period_start,
		   period_end = EXCLUDED.period_end,
		   status = EXCLUDED.status,
		   updated_at = NOW()
		 RETURNING `+subscriptionColumns,
		sub.ID, sub.OwnerID, sub.PlanID, sub.ProviderSubscriptionID, sub.BillingInterval,
		sub.PeriodStart, sub.PeriodEnd, sub.Status, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&result.ID, &result.OwnerID, &result.PlanID, &result.ProviderSubscriptionID, &result.BillingInterval,
		&result.PeriodStart, &result.PeriodEnd, &result.Status, &result.CreatedAt, &result.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return &result, nil
}

func (s *PostgresStore) ExtendSubscriptionPeriod(ctx context.Context, providerSubID string, periodStart, periodEnd time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions
		 SET period_start = $2, period_end = $3, status = 'active', updated_at = NOW()
		 WHERE provider_subscription_id = $1`, providerSubID, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("extend subscription period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CancelSubscription(ctx context.Context, providerSubID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
		 WHERE provider_subscription_id = $1`, providerSubID)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Admission ---

// AdmitJob is the quota gate's write path. The counter upsert and the job
// insert commit or roll back together: there is no window where a job exists
// uncounted, or usage is counted without a job.
//
// The guarded upsert relies on the DO UPDATE ... WHERE clause: when the
// counter is at limit the update matches no row and RETURNING yields
// nothing, which serializes concurrent admits on the counter's row lock.
func (s *PostgresStore) AdmitJob(ctx context.Context, job *models.Job, metric string, periodStart time.Time, limit int) (int, error) {
	if limit == 0 {
		used, err := s.usageCount(ctx, job.OwnerID, metric, periodStart)
		if err != nil {
			return 0, err
		}
		return used, ErrQuotaExceeded
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin admit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if limit < 0 {
		// Unlimited plan: count usage without a cap.
		err = tx.QueryRow(ctx,
			`INSERT INTO usage_counters (owner_id, metric, period_start, count)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (owner_id, metric, period_start) DO UPDATE
			 SET count = usage_counters.count + 1, updated_at = NOW()
			 RETURNING count`,
			job.OwnerID, metric, periodStart).Scan(&count)
	} else {
		err = tx.QueryRow(ctx,
			`INSERT INTO usage_counters (owner_id, metric, period_start, count)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (owner_id, metric, period_start) DO UPDATE
			 SET count = usage_counters.count + 1, updated_at = NOW()
			 WHERE usage_counters.count < $4
			 RETURNING count`,
			job.OwnerID, metric, periodStart, limit).Scan(&count)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		used, usedErr := s.usageCount(ctx, job.OwnerID, metric, periodStart)
		if usedErr != nil {
			return 0, usedErr
		}
		return used, ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("increment usage counter: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, kind, status, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OwnerID, job.Kind, job.Status, job.Params, job.CreatedAt, job.UpdatedAt); err != nil {
		if isDuplicateKeyError(err) {
			return 0, ErrDuplicateKey
		}
		return 0, fmt.Errorf("create job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit admit tx: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) usageCount(ctx context.Context, ownerID uuid.UUID, metric string, periodStart time.Time) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM usage_counters WHERE owner_id = $1 AND metric = $2 AND period_start = $3`,
		ownerID, metric, periodStart).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage count: %w", err)
	}
	return used, nil
}

// --- Jobs ---

const jobColumns = `id, owner_id, kind, status, params, result, failure_reason,
	 started_at, completed_at, created_at, updated_at`

// GetJob is owner-scoped: a job belonging to someone else reads as not
// found, so the endpoint cannot be used to probe for job existence.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID,
	).Scan(&j.ID, &j.OwnerID, &j.Kind, &j.Status, &j.Params, &j.Result, &j.FailureReason,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'processing', started_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotClaimable
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', result = $2, failure_reason = NULL,
		   completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id, result)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalConflict(ctx, id, models.JobStatusCompleted)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', failure_reason = $2, result = NULL,
		   completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id, reason)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalConflict(ctx, id, models.JobStatusFailed)
	}
	return nil
}

// terminalConflict resolves a CAS miss on a terminal write: re-applying the
// state the job is already in is a no-op, anything else is stale.
func (s *PostgresStore) terminalConflict(ctx context.Context, id uuid.UUID, wanted string) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if current == wanted {
		return nil
	}
	return fmt.Errorf("%w: job %s is %s, wanted %s", ErrStaleTransition, id, current, wanted)
}

func (s *PostgresStore) ReclaimStuckJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'failed', failure_reason = $2, result = NULL,
		   completed_at = NOW(), updated_at = NOW()
		 WHERE status = 'processing' AND updated_at < $1
		 RETURNING id`, cutoff, models.FailureInternal)
	if err != nil {
		return nil, fmt.Errorf("reclaim stuck jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan reclaimed job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
