// Package jobs executes generation jobs asynchronously and supervises
// their lifecycle.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/studycoach/internal/ai"
	"github.com/kiranshivaraju/studycoach/internal/store"
	"github.com/kiranshivaraju/studycoach/pkg/models"
)

// Generator produces a flash-card set for one generation attempt.
// repairPass > 0 requests stricter output formatting after malformed output.
type Generator interface {
	Generate(ctx context.Context, params models.GenerationParams, repairPass int) (*models.FlashCardSet, error)
}

// Config tunes retry bounds and the watchdog.
type Config struct {
	// MaxRepairPasses bounds re-requests after malformed generator output.
	MaxRepairPasses int
	// MaxTransientRetries bounds retries after upstream timeouts or outages.
	MaxTransientRetries int
	// ProcessingTimeout is how long a job may sit in processing without an
	// update before the watchdog force-fails it.
	ProcessingTimeout time.Duration
	// WatchdogInterval is how often stuck jobs are swept.
	WatchdogInterval time.Duration
}

// Runner executes admitted jobs out of the request cycle. Each dispatched
// job runs in its own supervised goroutine; all coordination with other
// runner instances goes through the job table's conditional updates, never
// shared memory.
type Runner struct {
	store store.Store
	gen   Generator
	cfg   Config
	wg    sync.WaitGroup
}

// NewRunner creates a new Runner.
func NewRunner(s store.Store, gen Generator, cfg Config) *Runner {
	return &Runner{store: s, gen: gen, cfg: cfg}
}

// Dispatch starts asynchronous execution of a pending job and returns
// immediately. The job must already exist in the store.
func (r *Runner) Dispatch(job *models.Job) {
	var params models.GenerationParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		// Params were validated at admission; reaching here is a bug.
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.failAfterClaim(context.Background(), job.ID, models.FailureInternal)
		}()
		return
	}

	r.wg.Add(1)
	go r.run(job.ID, params)
}

// Wait blocks until all dispatched jobs have finished. Used on shutdown
// and in tests; new dispatches during Wait are undefined.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// run drives one job to a terminal state. It recovers from panics so a job
// is never abandoned in processing by this process — and if the process
// dies anyway, the watchdog reclaims the row.
func (r *Runner) run(jobID uuid.UUID, params models.GenerationParams) {
	defer r.wg.Done()
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in job runner", "error", rec, "job_id", jobID)
			r.fail(ctx, jobID, models.FailureInternal)
		}
	}()

	// Exclusive claim: pending -> processing. A second runner instance
	// racing on the same job loses the conditional update and backs off.
	if err := r.store.ClaimJob(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrJobNotClaimable) {
			slog.Warn("job not claimable, skipping", "job_id", jobID)
		} else {
			slog.Error("claiming job", "error", err, "job_id", jobID)
		}
		return
	}

	set, reason := r.generate(ctx, params, jobID)
	if set == nil {
		r.fail(ctx, jobID, reason)
		return
	}

	payload, err := json.Marshal(set)
	if err != nil {
		slog.Error("encoding job result", "error", err, "job_id", jobID)
		r.fail(ctx, jobID, models.FailureInternal)
		return
	}

	if err := r.store.CompleteJob(ctx, jobID, payload); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			// The watchdog already failed this job; a late result must not
			// resurrect it.
			slog.Warn("discarding late job result", "job_id", jobID)
			return
		}
		slog.Error("completing job", "error", err, "job_id", jobID)
		return
	}

	slog.Info("job completed", "job_id", jobID, "cards", len(set.Cards))
}

// generate runs bounded generation attempts and returns either a valid set
// or the failure reason to record. Malformed output triggers structured
// repair passes; upstream timeouts and outages get plain retries. Both
// bounds are independent.
func (r *Runner) generate(ctx context.Context, params models.GenerationParams, jobID uuid.UUID) (*models.FlashCardSet, string) {
	repairs := 0
	retries := 0

	for {
		set, err := r.gen.Generate(ctx, params, repairs)
		if err == nil {
			return set, ""
		}

		switch {
		case errors.Is(err, ai.ErrMalformedOutput):
			if repairs >= r.cfg.MaxRepairPasses {
				slog.Warn("giving up after repair passes", "job_id", jobID, "passes", repairs, "error", err)
				return nil, models.FailureMalformedOutput
			}
			repairs++
			slog.Info("malformed generator output, requesting repair", "job_id", jobID, "pass", repairs)

		case errors.Is(err, ai.ErrGeneratorTimeout) || errors.Is(err, context.DeadlineExceeded):
			if retries >= r.cfg.MaxTransientRetries {
				return nil, models.FailureUpstreamTimeout
			}
			retries++
			slog.Info("generator timeout, retrying", "job_id", jobID, "attempt", retries)

		case errors.Is(err, ai.ErrGeneratorUnavailable):
			if retries >= r.cfg.MaxTransientRetries {
				return nil, models.FailureUpstreamError
			}
			retries++
			slog.Info("generator unavailable, retrying", "job_id", jobID, "attempt", retries)

		default:
			slog.Error("generation failed", "error", err, "job_id", jobID)
			return nil, models.FailureUpstreamError
		}
	}
}

// fail records a terminal failure, tolerating races with the watchdog.
func (r *Runner) fail(ctx context.Context, jobID uuid.UUID, reason string) {
	if err := r.store.FailJob(ctx, jobID, reason); err != nil && !errors.Is(err, store.ErrStaleTransition) {
		slog.Error("failing job", "error", err, "job_id", jobID, "reason", reason)
	}
}

// failAfterClaim claims then fails, for jobs that are broken before any
// generation attempt can start.
func (r *Runner) failAfterClaim(ctx context.Context, jobID uuid.UUID, reason string) {
	if err := r.store.ClaimJob(ctx, jobID); err != nil {
		slog.Error("claiming broken job", "error", err, "job_id", jobID)
		return
	}
	r.fail(ctx, jobID, reason)
}

// StartWatchdog launches the reclamation loop: jobs stuck in processing
// past the configured timeout are force-failed so pollers never wait on a
// dead runner. Stops when ctx is cancelled.
func (r *Runner) StartWatchdog(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.WatchdogInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-r.cfg.ProcessingTimeout)
				ids, err := r.store.ReclaimStuckJobs(ctx, cutoff)
				if err != nil {
					slog.Error("watchdog sweep failed", "error", err)
					continue
				}
				for _, id := range ids {
					slog.Warn("watchdog reclaimed stuck job", "job_id", id,
						"timeout", r.cfg.ProcessingTimeout)
				}
			}
		}
	}()
}
