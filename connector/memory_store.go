package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/claims-pipeline/core"
)

// MemoryJobStore is the in-process SubmissionJobStore used by tests and
// single-node tooling. Durable deployments use the SQL-backed store.
type MemoryJobStore struct {
	mu    sync.Mutex
	jobs  map[string]core.SubmissionJob
	order []string
	Now   func() time.Time

	// LeaseTimeout bounds how long a claimed job may sit in-flight before
	// ClaimDue reclaims it as a crashed attempt. Zero uses the default.
	LeaseTimeout time.Duration
}

const defaultLeaseTimeout = 5 * time.Minute

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: map[string]core.SubmissionJob{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryJobStore) CreateExclusive(_ context.Context, job core.SubmissionJob) (core.SubmissionJob, error) {
	if s == nil {
		return core.SubmissionJob{}, fmt.Errorf("connector: job store is not configured")
	}
	if err := job.Validate(); err != nil {
		return core.SubmissionJob{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		existing := s.jobs[id]
		if existing.ClaimID == job.ClaimID && existing.Rail == job.Rail && existing.Status.IsActive() {
			return core.SubmissionJob{}, fmt.Errorf(
				"%w: claim %s rail %s", core.ErrSubmissionInFlight, job.ClaimID, job.Rail,
			)
		}
	}

	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if strings.TrimSpace(job.IdempotencyToken) == "" {
		job.IdempotencyToken = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = core.SubmissionJobStatusQueued
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	return job, nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (core.SubmissionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.SubmissionJob{}, core.ErrJobNotFound
	}
	return job, nil
}

func (s *MemoryJobStore) GetActive(_ context.Context, claimID string, rail string) (core.SubmissionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		job := s.jobs[id]
		if job.ClaimID == strings.TrimSpace(claimID) && job.Rail == strings.TrimSpace(rail) && job.Status.IsActive() {
			return job, nil
		}
	}
	return core.SubmissionJob{}, core.ErrJobNotFound
}

// ClaimDue moves due jobs to in-flight in FIFO creation order and increments
// their attempt count. The returned snapshots carry the new attempt number.
// An in-flight job whose lease has lapsed belonged to a crashed worker and is
// reclaimed as a fresh attempt.
func (s *MemoryJobStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]core.SubmissionJob, error) {
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []core.SubmissionJob
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		job := s.jobs[id]
		switch job.Status {
		case core.SubmissionJobStatusQueued:
		case core.SubmissionJobStatusRetryScheduled:
			if job.NextAttemptAt != nil && job.NextAttemptAt.After(now) {
				continue
			}
		case core.SubmissionJobStatusInFlight:
			if job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
				continue
			}
		default:
			continue
		}
		job.Status = core.SubmissionJobStatusInFlight
		job.AttemptCount++
		job.NextAttemptAt = nil
		leaseUntil := now.UTC().Add(s.leaseTimeout())
		job.LeaseExpiresAt = &leaseUntil
		job.UpdatedAt = now.UTC()
		s.jobs[id] = job
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *MemoryJobStore) MarkSucceeded(_ context.Context, id string) error {
	return s.transition(id, func(job *core.SubmissionJob) {
		job.Status = core.SubmissionJobStatusSucceeded
		job.LastError = ""
		job.NextAttemptAt = nil
		job.LeaseExpiresAt = nil
	})
}

func (s *MemoryJobStore) MarkRetryScheduled(_ context.Context, id string, cause string, nextAttemptAt time.Time) error {
	at := nextAttemptAt.UTC()
	return s.transition(id, func(job *core.SubmissionJob) {
		job.Status = core.SubmissionJobStatusRetryScheduled
		job.LastError = strings.TrimSpace(cause)
		job.NextAttemptAt = &at
		job.LeaseExpiresAt = nil
	})
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id string, cause string) error {
	return s.transition(id, func(job *core.SubmissionJob) {
		job.Status = core.SubmissionJobStatusFailed
		job.LastError = strings.TrimSpace(cause)
		job.NextAttemptAt = nil
		job.LeaseExpiresAt = nil
	})
}

func (s *MemoryJobStore) transition(id string, apply func(job *core.SubmissionJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("connector: job %s is terminal (%s) and cannot transition", job.ID, job.Status)
	}
	apply(&job)
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) leaseTimeout() time.Duration {
	if s != nil && s.LeaseTimeout > 0 {
		return s.LeaseTimeout
	}
	return defaultLeaseTimeout
}

func (s *MemoryJobStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.SubmissionJobStore = (*MemoryJobStore)(nil)
