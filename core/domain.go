package core

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventTypeRequestAdjudicated     EventType = "REQUEST_ADJUDICATED"
	EventTypeRequestRejected        EventType = "REQUEST_REJECTED"
	EventTypeSubmissionAcknowledged EventType = "SUBMISSION_ACKNOWLEDGED"
)

func ParseEventType(value string) (EventType, error) {
	switch EventType(strings.TrimSpace(strings.ToUpper(value))) {
	case EventTypeRequestAdjudicated:
		return EventTypeRequestAdjudicated, nil
	case EventTypeRequestRejected:
		return EventTypeRequestRejected, nil
	case EventTypeSubmissionAcknowledged:
		return EventTypeSubmissionAcknowledged, nil
	default:
		return "", fmt.Errorf("core: unsupported event type %q", value)
	}
}

// ChainRef carries provenance for an inbound event. It is recorded for audit
// purposes only; correctness never depends on these fields.
type ChainRef struct {
	ChainID         string
	ContractAddress string
	BlockNumber     uint64
	BlockHash       string
	TxHash          string
	LogIndex        uint32
}

type AdjudicationOutcome string

const (
	AdjudicationOutcomeApproved AdjudicationOutcome = "APPROVED"
	AdjudicationOutcomeDenied   AdjudicationOutcome = "DENIED"
)

// AdjudicationDecision is the payload for REQUEST_ADJUDICATED and
// REQUEST_REJECTED events.
type AdjudicationDecision struct {
	Outcome            AdjudicationOutcome
	AllowedAmountCents int64
	Reason             string
	Rail               string
	RailTrackingID     string
}

func (d AdjudicationDecision) Validate() error {
	switch d.Outcome {
	case AdjudicationOutcomeApproved, AdjudicationOutcomeDenied:
	default:
		return fmt.Errorf("core: adjudication outcome %q is not supported", d.Outcome)
	}
	if d.AllowedAmountCents < 0 {
		return fmt.Errorf("core: allowed amount must not be negative")
	}
	return nil
}

// AcknowledgementDetail is the payload for SUBMISSION_ACKNOWLEDGED events.
type AcknowledgementDetail struct {
	Rail           string
	RailTrackingID string
}

func (d AcknowledgementDetail) Validate() error {
	if strings.TrimSpace(d.Rail) == "" {
		return fmt.Errorf("core: acknowledgement rail is required")
	}
	return nil
}

// InboundEvent is one externally delivered adjudication notification. Events
// are never mutated after receipt; Raw retains the wire payload verbatim for
// audit and replay detection.
type InboundEvent struct {
	EventID         string
	EventType       EventType
	Chain           ChainRef
	RequestIDHash   string
	OccurredAt      time.Time
	Adjudication    *AdjudicationDecision
	Acknowledgement *AcknowledgementDetail
	Raw             []byte
}

func (e InboundEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("core: event id is required")
	}
	if strings.TrimSpace(e.RequestIDHash) == "" {
		return fmt.Errorf("core: request id hash is required")
	}
	switch e.EventType {
	case EventTypeRequestAdjudicated, EventTypeRequestRejected:
		if e.Adjudication == nil {
			return fmt.Errorf("core: %s event requires an adjudication payload", e.EventType)
		}
		if e.Acknowledgement != nil {
			return fmt.Errorf("core: %s event must not carry an acknowledgement payload", e.EventType)
		}
		return e.Adjudication.Validate()
	case EventTypeSubmissionAcknowledged:
		if e.Acknowledgement == nil {
			return fmt.Errorf("core: %s event requires an acknowledgement payload", e.EventType)
		}
		if e.Adjudication != nil {
			return fmt.Errorf("core: %s event must not carry an adjudication payload", e.EventType)
		}
		return e.Acknowledgement.Validate()
	default:
		return fmt.Errorf("core: unsupported event type %q", e.EventType)
	}
}

type ReservationOutcome string

const (
	ReservationFirstSeen       ReservationOutcome = "first_seen"
	ReservationAlreadyPending  ReservationOutcome = "already_pending"
	ReservationAlreadyApplied  ReservationOutcome = "already_applied"
	ReservationAlreadyRejected ReservationOutcome = "already_rejected"
)

type IdempotencyStatus string

const (
	IdempotencyStatusPending  IdempotencyStatus = "pending"
	IdempotencyStatusApplied  IdempotencyStatus = "applied"
	IdempotencyStatusRejected IdempotencyStatus = "rejected"
)

// IdempotencyRecord is the durable dedupe record for one event id. Only an
// applied record blocks reprocessing: pending records stay retryable so an
// event that arrives before its claim exists is never silently dropped.
type IdempotencyRecord struct {
	EventID       string
	Status        IdempotencyStatus
	FirstSeenAt   time.Time
	LastAttemptAt time.Time
}

// ClaimRef is the read-only projection of the collaborator's claim entity the
// pipeline is allowed to see.
type ClaimRef struct {
	ID              string
	ReferenceNumber string
	RailTrackingID  string
}

type SubmissionJobStatus string

const (
	SubmissionJobStatusQueued         SubmissionJobStatus = "queued"
	SubmissionJobStatusInFlight       SubmissionJobStatus = "in_flight"
	SubmissionJobStatusRetryScheduled SubmissionJobStatus = "retry_scheduled"
	SubmissionJobStatusSucceeded      SubmissionJobStatus = "succeeded"
	SubmissionJobStatusFailed         SubmissionJobStatus = "failed"
)

// IsActive reports whether a job still holds the per-(claim, rail) slot.
func (s SubmissionJobStatus) IsActive() bool {
	switch s {
	case SubmissionJobStatusQueued, SubmissionJobStatusInFlight, SubmissionJobStatusRetryScheduled:
		return true
	default:
		return false
	}
}

func (s SubmissionJobStatus) IsTerminal() bool {
	return s == SubmissionJobStatusSucceeded || s == SubmissionJobStatusFailed
}

// SubmissionJob tracks one outbound submission of a claim to a rail. The
// idempotency token is generated once at enqueue time and reused on every
// attempt so rail-side retries dedupe.
type SubmissionJob struct {
	ID               string
	ClaimID          string
	Rail             string
	Status           SubmissionJobStatus
	AttemptCount     int
	NextAttemptAt    *time.Time
	LeaseExpiresAt   *time.Time
	IdempotencyToken string
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (j SubmissionJob) Validate() error {
	if strings.TrimSpace(j.ClaimID) == "" {
		return fmt.Errorf("core: claim id is required")
	}
	if strings.TrimSpace(j.Rail) == "" {
		return fmt.Errorf("core: rail is required")
	}
	return nil
}

type StatusEventSource string

const (
	StatusSourceInboundWebhook     StatusEventSource = "INBOUND_WEBHOOK"
	StatusSourceOutboundSubmission StatusEventSource = "OUTBOUND_SUBMISSION"
)

const (
	StatusKindSubmitted        = "submitted"
	StatusKindAcknowledged     = "acknowledged"
	StatusKindAdjudicated      = "adjudicated"
	StatusKindRejected         = "rejected"
	StatusKindRetryScheduled   = "retry_scheduled"
	StatusKindSubmissionFailed = "submission_failed"
)

// StatusEvent is one append-only entry in a claim's connector history.
// BlockNumber and LogIndex break timestamp ties for inbound events.
type StatusEvent struct {
	ID          string
	ClaimID     string
	Source      StatusEventSource
	Kind        string
	Timestamp   time.Time
	BlockNumber uint64
	LogIndex    uint32
	Detail      map[string]any
}

func (e StatusEvent) Validate() error {
	if strings.TrimSpace(e.ClaimID) == "" {
		return fmt.Errorf("core: claim id is required")
	}
	switch e.Source {
	case StatusSourceInboundWebhook, StatusSourceOutboundSubmission:
	default:
		return fmt.Errorf("core: unsupported status event source %q", e.Source)
	}
	if strings.TrimSpace(e.Kind) == "" {
		return fmt.Errorf("core: status event kind is required")
	}
	return nil
}

type AuditSubjectKind string

const (
	AuditSubjectEvent AuditSubjectKind = "event"
	AuditSubjectJob   AuditSubjectKind = "job"
)

const AuditActorSystem = "SYSTEM"

// AuditEntry is the immutable compliance trail record. Written once per
// applied inbound event or completed job attempt, never for rejected or
// duplicate deliveries.
type AuditEntry struct {
	ID          string
	SubjectID   string
	SubjectKind AuditSubjectKind
	ActorType   string
	Action      string
	Outcome     string
	Timestamp   time.Time
}

func (e AuditEntry) Validate() error {
	if strings.TrimSpace(e.SubjectID) == "" {
		return fmt.Errorf("core: audit subject id is required")
	}
	switch e.SubjectKind {
	case AuditSubjectEvent, AuditSubjectJob:
	default:
		return fmt.Errorf("core: unsupported audit subject kind %q", e.SubjectKind)
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("core: audit action is required")
	}
	return nil
}

type SubmissionOutcome string

const (
	SubmissionSucceeded        SubmissionOutcome = "succeeded"
	SubmissionTransientFailure SubmissionOutcome = "transient_failure"
	SubmissionPermanentFailure SubmissionOutcome = "permanent_failure"
)

// SubmissionResult is the only value a rail adapter may hand back to the
// queue; raw errors never cross the adapter boundary.
type SubmissionResult struct {
	Outcome        SubmissionOutcome
	Reason         string
	RailTrackingID string
	Metadata       map[string]any
}

func Succeeded(trackingID string) SubmissionResult {
	return SubmissionResult{
		Outcome:        SubmissionSucceeded,
		RailTrackingID: strings.TrimSpace(trackingID),
	}
}

func TransientFailure(reason string) SubmissionResult {
	return SubmissionResult{
		Outcome: SubmissionTransientFailure,
		Reason:  strings.TrimSpace(reason),
	}
}

func PermanentFailure(reason string) SubmissionResult {
	return SubmissionResult{
		Outcome: SubmissionPermanentFailure,
		Reason:  strings.TrimSpace(reason),
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
