package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/claims-pipeline/core"
)

var activeJobStatuses = []string{
	string(core.SubmissionJobStatusQueued),
	string(core.SubmissionJobStatusInFlight),
	string(core.SubmissionJobStatusRetryScheduled),
}

// SubmissionJobStore persists outbound connector jobs. The partial unique
// index on (claim_id, rail) over active statuses enforces the
// single-active-job invariant at the database, so CreateExclusive stays a
// plain insert even under concurrent enqueues.
type SubmissionJobStore struct {
	db   *bun.DB
	repo repository.Repository[*submissionJobRecord]

	// Now is injectable for tests.
	Now func() time.Time

	// LeaseTimeout bounds how long a claimed job may sit in-flight before
	// ClaimDue reclaims it as a crashed attempt. Zero uses the default.
	LeaseTimeout time.Duration
}

const defaultLeaseTimeout = 5 * time.Minute

func NewSubmissionJobStore(db *bun.DB) (*SubmissionJobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*submissionJobRecord](db, submissionJobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid submission job repository wiring: %w", err)
		}
	}
	return &SubmissionJobStore{db: db, repo: repo, Now: time.Now}, nil
}

func (s *SubmissionJobStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SubmissionJobStore) leaseTimeout() time.Duration {
	if s != nil && s.LeaseTimeout > 0 {
		return s.LeaseTimeout
	}
	return defaultLeaseTimeout
}

func (s *SubmissionJobStore) CreateExclusive(ctx context.Context, job core.SubmissionJob) (core.SubmissionJob, error) {
	if s == nil || s.db == nil {
		return core.SubmissionJob{}, fmt.Errorf("sqlstore: submission job store is not configured")
	}
	if err := job.Validate(); err != nil {
		return core.SubmissionJob{}, err
	}

	job.ClaimID = strings.TrimSpace(job.ClaimID)
	job.Rail = strings.ToLower(strings.TrimSpace(job.Rail))
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if strings.TrimSpace(job.IdempotencyToken) == "" {
		job.IdempotencyToken = uuid.NewString()
	}
	now := s.now()
	job.Status = core.SubmissionJobStatusQueued
	job.AttemptCount = 0
	job.NextAttemptAt = nil
	job.LeaseExpiresAt = nil
	job.LastError = ""
	job.CreatedAt = now
	job.UpdatedAt = now

	record := submissionJobFromDomain(job)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.SubmissionJob{}, fmt.Errorf(
				"%w: claim %s rail %s", core.ErrSubmissionInFlight, job.ClaimID, job.Rail,
			)
		}
		return core.SubmissionJob{}, err
	}
	return job, nil
}

func (s *SubmissionJobStore) Get(ctx context.Context, id string) (core.SubmissionJob, error) {
	if s == nil || s.db == nil {
		return core.SubmissionJob{}, fmt.Errorf("sqlstore: submission job store is not configured")
	}
	record := &submissionJobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SubmissionJob{}, fmt.Errorf("%w: id %q", core.ErrJobNotFound, id)
		}
		return core.SubmissionJob{}, err
	}
	return submissionJobToDomain(record), nil
}

func (s *SubmissionJobStore) GetActive(ctx context.Context, claimID string, rail string) (core.SubmissionJob, error) {
	if s == nil || s.db == nil {
		return core.SubmissionJob{}, fmt.Errorf("sqlstore: submission job store is not configured")
	}
	record := &submissionJobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.claim_id = ?", strings.TrimSpace(claimID)).
		Where("?TableAlias.rail = ?", strings.ToLower(strings.TrimSpace(rail))).
		Where("?TableAlias.status IN (?)", bun.In(activeJobStatuses)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.SubmissionJob{}, fmt.Errorf(
				"%w: no active job for claim %q rail %q", core.ErrJobNotFound, claimID, rail,
			)
		}
		return core.SubmissionJob{}, err
	}
	return submissionJobToDomain(record), nil
}

// ClaimDue transitions due jobs to in-flight and increments their attempt
// counter inside one transaction, so two dispatch loops sharing a database
// never double-claim a job. In-flight rows whose lease has lapsed are
// reclaimed as a fresh attempt: a crashed worker must not strand the job or
// hold the (claim, rail) slot forever.
func (s *SubmissionJobStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.SubmissionJob, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: submission job store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}

	var claimed []core.SubmissionJob
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var records []*submissionJobRecord
		err := tx.NewSelect().
			Model(&records).
			Where("?TableAlias.status = ?", string(core.SubmissionJobStatusQueued)).
			WhereOr(
				"?TableAlias.status = ? AND ?TableAlias.next_attempt_at <= ?",
				string(core.SubmissionJobStatusRetryScheduled), now.UTC(),
			).
			WhereOr(
				"?TableAlias.status = ? AND ?TableAlias.lease_expires_at IS NOT NULL AND ?TableAlias.lease_expires_at <= ?",
				string(core.SubmissionJobStatusInFlight), now.UTC(),
			).
			Order("created_at ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return err
		}

		stamp := s.now()
		leaseUntil := now.UTC().Add(s.leaseTimeout())
		for _, record := range records {
			record.Status = string(core.SubmissionJobStatusInFlight)
			record.AttemptCount++
			record.NextAttemptAt = nil
			record.LeaseExpiresAt = &leaseUntil
			record.UpdatedAt = stamp
			if _, err := tx.NewUpdate().
				Model(record).
				Column("status", "attempt_count", "next_attempt_at", "lease_expires_at", "updated_at").
				WherePK().
				Exec(ctx); err != nil {
				return err
			}
			claimed = append(claimed, submissionJobToDomain(record))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *SubmissionJobStore) MarkSucceeded(ctx context.Context, id string) error {
	return s.transition(ctx, id, core.SubmissionJobStatusSucceeded, "", nil)
}

func (s *SubmissionJobStore) MarkRetryScheduled(ctx context.Context, id string, cause string, nextAttemptAt time.Time) error {
	at := nextAttemptAt.UTC()
	return s.transition(ctx, id, core.SubmissionJobStatusRetryScheduled, cause, &at)
}

func (s *SubmissionJobStore) MarkFailed(ctx context.Context, id string, cause string) error {
	return s.transition(ctx, id, core.SubmissionJobStatusFailed, cause, nil)
}

func (s *SubmissionJobStore) transition(ctx context.Context, id string, status core.SubmissionJobStatus, cause string, nextAttemptAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: submission job store is not configured")
	}
	id = strings.TrimSpace(id)

	result, err := s.db.NewUpdate().
		Model((*submissionJobRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_error = ?", strings.TrimSpace(cause)).
		Set("next_attempt_at = ?", nextAttemptAt).
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(activeJobStatuses)).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	existing, getErr := s.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf(
		"sqlstore: job %s is terminal (%s) and cannot move to %s",
		id, existing.Status, status,
	)
}

func submissionJobFromDomain(job core.SubmissionJob) *submissionJobRecord {
	return &submissionJobRecord{
		ID:               job.ID,
		ClaimID:          job.ClaimID,
		Rail:             job.Rail,
		Status:           string(job.Status),
		AttemptCount:     job.AttemptCount,
		NextAttemptAt:    job.NextAttemptAt,
		LeaseExpiresAt:   job.LeaseExpiresAt,
		IdempotencyToken: job.IdempotencyToken,
		LastError:        job.LastError,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}

func submissionJobToDomain(record *submissionJobRecord) core.SubmissionJob {
	if record == nil {
		return core.SubmissionJob{}
	}
	return core.SubmissionJob{
		ID:               record.ID,
		ClaimID:          record.ClaimID,
		Rail:             record.Rail,
		Status:           core.SubmissionJobStatus(record.Status),
		AttemptCount:     record.AttemptCount,
		NextAttemptAt:    record.NextAttemptAt,
		LeaseExpiresAt:   record.LeaseExpiresAt,
		IdempotencyToken: record.IdempotencyToken,
		LastError:        record.LastError,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
}
