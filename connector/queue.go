package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/claims-pipeline/core"
)

const (
	attemptMetric   = "claims.connector.attempts.total"
	durationMetric  = "claims.connector.attempt.duration_seconds"
	jobFailedMetric = "claims.connector.job_failed.total"
)

// Queue schedules and executes outbound submissions. At most one job per
// (claim, rail) is active at a time; the conditional insert in the job store
// enforces that under concurrent enqueue attempts. Execution runs on a
// bounded worker pool so a slow rail never blocks webhook processing.
type Queue struct {
	Jobs    core.SubmissionJobStore
	Rails   core.RailResolver
	Claims  core.ClaimDirectory
	Status  core.StatusEventStore
	Audit   *core.AuditRecorder
	Logger  core.Logger
	Metrics core.MetricsRecorder
	Config  core.ConnectorConfig
	Backoff BackoffPolicy
	Now     func() time.Time
}

func NewQueue(
	jobs core.SubmissionJobStore,
	rails core.RailResolver,
	claims core.ClaimDirectory,
	status core.StatusEventStore,
	audit *core.AuditRecorder,
	cfg core.ConnectorConfig,
) (*Queue, error) {
	if jobs == nil {
		return nil, fmt.Errorf("connector: submission job store is required")
	}
	if rails == nil {
		return nil, fmt.Errorf("connector: rail resolver is required")
	}
	if claims == nil {
		return nil, fmt.Errorf("connector: claim directory is required")
	}
	if status == nil {
		return nil, fmt.Errorf("connector: status event store is required")
	}
	if audit == nil {
		return nil, fmt.Errorf("connector: audit recorder is required")
	}
	return &Queue{
		Jobs:   jobs,
		Rails:  rails,
		Claims: claims,
		Status: status,
		Audit:  audit,
		Config: cfg,
		Backoff: BackoffPolicy{
			Initial: cfg.InitialBackoff(),
			Max:     cfg.MaxBackoff(),
		},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Enqueue creates a queued job for (claimID, rail). Fails with
// ErrSubmissionInFlight when an active job already holds the slot. The
// idempotency token is minted here, once, and reused on every attempt so
// rail-side retries dedupe.
func (q *Queue) Enqueue(ctx context.Context, claimID string, rail string) (core.SubmissionJob, error) {
	if q == nil || q.Jobs == nil {
		return core.SubmissionJob{}, fmt.Errorf("connector: queue is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	rail = strings.TrimSpace(rail)
	if claimID == "" {
		return core.SubmissionJob{}, fmt.Errorf("connector: claim id is required")
	}
	if rail == "" {
		return core.SubmissionJob{}, fmt.Errorf("connector: rail is required")
	}
	if q.Rails != nil {
		if _, err := q.Rails.Resolve(rail); err != nil {
			return core.SubmissionJob{}, err
		}
	}
	if q.Claims != nil {
		if _, err := q.Claims.Get(ctx, claimID); err != nil {
			return core.SubmissionJob{}, err
		}
	}

	now := q.now()
	job := core.SubmissionJob{
		ID:               uuid.NewString(),
		ClaimID:          claimID,
		Rail:             rail,
		Status:           core.SubmissionJobStatusQueued,
		IdempotencyToken: uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created, err := q.Jobs.CreateExclusive(ctx, job)
	if err != nil {
		return core.SubmissionJob{}, err
	}
	return created, nil
}

// DispatchDue claims due jobs FIFO and executes them on a bounded worker
// pool. Returns the number of jobs executed in this pass.
func (q *Queue) DispatchDue(ctx context.Context) (int, error) {
	if q == nil || q.Jobs == nil {
		return 0, fmt.Errorf("connector: queue is not configured")
	}
	batch := q.Config.BatchSize
	if batch <= 0 {
		batch = 25
	}
	jobs, err := q.Jobs.ClaimDue(ctx, q.now(), batch)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	workers := q.Config.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	queue := make(chan core.SubmissionJob)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				q.executeJob(ctx, job)
			}
		}()
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	wg.Wait()
	return len(jobs), nil
}

// Run polls for due jobs until the context is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("connector: queue is not configured")
	}
	ticker := time.NewTicker(q.Config.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := q.DispatchDue(ctx); err != nil {
				q.logger(ctx).Error("connector dispatch pass failed", "error", err.Error())
			}
		}
	}
}

func (q *Queue) executeJob(ctx context.Context, job core.SubmissionJob) {
	adapter, err := q.Rails.Resolve(job.Rail)
	if err != nil {
		q.finishFailed(ctx, job, fmt.Sprintf("no adapter for rail %s: %v", job.Rail, err))
		return
	}

	claim, err := q.Claims.Get(ctx, job.ClaimID)
	if err != nil {
		// Directory trouble says nothing about the remote end.
		q.handleResult(ctx, job, core.TransientFailure(fmt.Sprintf("claim lookup failed: %v", err)))
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, q.Config.SubmitTimeout())
	defer cancel()

	started := q.now()
	result := q.submit(submitCtx, adapter, core.RailSubmission{
		Job:              job,
		Claim:            claim,
		Attempt:          job.AttemptCount,
		IdempotencyToken: job.IdempotencyToken,
	})
	if q.Metrics != nil {
		q.Metrics.ObserveHistogram(ctx, durationMetric, time.Since(started).Seconds(), map[string]string{
			"rail": job.Rail,
		})
	}
	q.handleResult(ctx, job, result)
}

// submit isolates the adapter call: a panic or a zero result is folded into
// TransientFailure so nothing raw crosses the adapter boundary.
func (q *Queue) submit(ctx context.Context, adapter core.RailAdapter, req core.RailSubmission) (result core.SubmissionResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = core.TransientFailure(fmt.Sprintf("rail adapter panic: %v", recovered))
		}
	}()
	result = adapter.Submit(ctx, req)
	if result.Outcome == "" {
		result = core.TransientFailure("rail adapter returned no outcome")
	}
	// A timed-out attempt may still have landed remotely; the idempotency
	// token makes the retry safe.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && result.Outcome != core.SubmissionSucceeded {
		result = core.TransientFailure("rail submission timed out")
	}
	return result
}

func (q *Queue) handleResult(ctx context.Context, job core.SubmissionJob, result core.SubmissionResult) {
	q.countAttempt(ctx, job.Rail, result.Outcome)

	switch result.Outcome {
	case core.SubmissionSucceeded:
		if err := q.Jobs.MarkSucceeded(ctx, job.ID); err != nil {
			q.logger(ctx).Error("mark job succeeded failed", "job_id", job.ID, "error", err.Error())
			return
		}
		q.appendStatus(ctx, job, core.StatusKindSubmitted, map[string]any{
			"job_id":           job.ID,
			"attempt":          job.AttemptCount,
			"rail_tracking_id": result.RailTrackingID,
		})
		q.Audit.RecordApplied(ctx, core.AuditSubjectJob, job.ID, "job.submitted", string(core.SubmissionSucceeded))

	case core.SubmissionTransientFailure:
		maxAttempts := q.Config.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 5
		}
		if job.AttemptCount >= maxAttempts {
			q.finishFailed(ctx, job, fmt.Sprintf("attempt cap reached after %d attempts: %s", job.AttemptCount, result.Reason))
			return
		}
		delay := q.Backoff.Delay(job.AttemptCount)
		nextAttemptAt := q.now().Add(delay)
		if err := q.Jobs.MarkRetryScheduled(ctx, job.ID, result.Reason, nextAttemptAt); err != nil {
			q.logger(ctx).Error("mark job retry failed", "job_id", job.ID, "error", err.Error())
			return
		}
		q.appendStatus(ctx, job, core.StatusKindRetryScheduled, map[string]any{
			"job_id":          job.ID,
			"attempt":         job.AttemptCount,
			"reason":          result.Reason,
			"next_attempt_at": nextAttemptAt.Format(time.RFC3339),
		})

	case core.SubmissionPermanentFailure:
		q.finishFailed(ctx, job, result.Reason)

	default:
		q.finishFailed(ctx, job, fmt.Sprintf("unknown submission outcome %q", result.Outcome))
	}
}

// finishFailed makes the job terminal and surfaces it for manual
// intervention; a silently dropped job is the one unacceptable outcome.
func (q *Queue) finishFailed(ctx context.Context, job core.SubmissionJob, cause string) {
	if err := q.Jobs.MarkFailed(ctx, job.ID, cause); err != nil {
		q.logger(ctx).Error("mark job failed failed", "job_id", job.ID, "error", err.Error())
		return
	}
	q.appendStatus(ctx, job, core.StatusKindSubmissionFailed, map[string]any{
		"job_id":  job.ID,
		"attempt": job.AttemptCount,
		"reason":  cause,
	})
	q.Audit.RecordApplied(ctx, core.AuditSubjectJob, job.ID, "job.failed", cause)
	q.logger(ctx).Error("submission job failed permanently",
		"job_id", job.ID,
		"claim_id", job.ClaimID,
		"rail", job.Rail,
		"attempts", job.AttemptCount,
		"cause", cause,
	)
	if q.Metrics != nil {
		q.Metrics.IncCounter(ctx, jobFailedMetric, 1, map[string]string{
			"rail": job.Rail,
		})
	}
}

func (q *Queue) appendStatus(ctx context.Context, job core.SubmissionJob, kind string, detail map[string]any) {
	event := core.StatusEvent{
		ClaimID:   job.ClaimID,
		Source:    core.StatusSourceOutboundSubmission,
		Kind:      kind,
		Timestamp: q.now(),
		Detail:    detail,
	}
	if _, err := q.Status.Append(ctx, event); err != nil {
		q.logger(ctx).Error("status event append failed",
			"claim_id", job.ClaimID,
			"kind", kind,
			"error", err.Error(),
		)
	}
}

func (q *Queue) countAttempt(ctx context.Context, rail string, outcome core.SubmissionOutcome) {
	if q.Metrics == nil {
		return
	}
	q.Metrics.IncCounter(ctx, attemptMetric, 1, map[string]string{
		"rail":    rail,
		"outcome": string(outcome),
	})
}

func (q *Queue) logger(ctx context.Context) core.Logger {
	logger := glog.Ensure(q.Logger)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return logger
}

func (q *Queue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}
