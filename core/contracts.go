package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// IdempotencyLedger owns IdempotencyRecord state. CheckAndReserve must be
// atomic under concurrent deliveries of the same event id: exactly one caller
// observes ReservationFirstSeen for a brand-new id, and a pending record
// never blocks reprocessing.
type IdempotencyLedger interface {
	CheckAndReserve(ctx context.Context, eventID string) (ReservationOutcome, error)
	MarkApplied(ctx context.Context, eventID string) error
	MarkRejected(ctx context.Context, eventID string) error
	Get(ctx context.Context, eventID string) (IdempotencyRecord, error)
}

// ClaimDirectory is the collaborator-owned claim lookup surface. Lookups
// return ErrClaimNotFound when no claim matches; that outcome is retryable.
type ClaimDirectory interface {
	Get(ctx context.Context, claimID string) (ClaimRef, error)
	GetByReferenceNumber(ctx context.Context, referenceNumber string) (ClaimRef, error)
	GetByRailTrackingID(ctx context.Context, trackingID string) (ClaimRef, error)
}

// ClaimUpdater applies an adjudication decision to the collaborator's claim
// record. The call is treated as atomic; the collaborator handles its own
// locking.
type ClaimUpdater interface {
	ApplyAdjudication(ctx context.Context, claimID string, event InboundEvent) error
}

type InboundEventStore interface {
	Record(ctx context.Context, event InboundEvent) (InboundEvent, error)
	Get(ctx context.Context, eventID string) (InboundEvent, error)
}

type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) (AuditEntry, error)
	ListBySubject(ctx context.Context, subjectID string) ([]AuditEntry, error)
}

type StatusEventStore interface {
	Append(ctx context.Context, event StatusEvent) (StatusEvent, error)
	ListByClaim(ctx context.Context, claimID string) ([]StatusEvent, error)
}

// SubmissionJobStore owns SubmissionJob transitions. CreateExclusive enforces
// the single-active-job invariant per (claim, rail) with a conditional
// insert; ClaimDue atomically moves due jobs to in-flight in FIFO order.
type SubmissionJobStore interface {
	CreateExclusive(ctx context.Context, job SubmissionJob) (SubmissionJob, error)
	Get(ctx context.Context, id string) (SubmissionJob, error)
	GetActive(ctx context.Context, claimID string, rail string) (SubmissionJob, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]SubmissionJob, error)
	MarkSucceeded(ctx context.Context, id string) error
	MarkRetryScheduled(ctx context.Context, id string, cause string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, cause string) error
}

// RailSubmission is one attempt handed to a rail adapter.
type RailSubmission struct {
	Job              SubmissionJob
	Claim            ClaimRef
	Attempt          int
	IdempotencyToken string
}

// RailAdapter submits a claim to one external clearinghouse rail. Submit
// never returns an error; every failure mode is folded into the result.
type RailAdapter interface {
	RailID() string
	Submit(ctx context.Context, req RailSubmission) SubmissionResult
}

type RailResolver interface {
	Resolve(railID string) (RailAdapter, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
