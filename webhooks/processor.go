package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/claims-pipeline/core"
)

type ProcessState string

const (
	StateReceived          ProcessState = "RECEIVED"
	StateVerified          ProcessState = "VERIFIED"
	StateDedupeChecked     ProcessState = "DEDUPE_CHECKED"
	StateResolved          ProcessState = "RESOLVED"
	StateApplied           ProcessState = "APPLIED"
	StateRejectedAuth      ProcessState = "REJECTED_AUTH"
	StateRejectedMalformed ProcessState = "REJECTED_MALFORMED"
	StateDuplicate         ProcessState = "DUPLICATE"
	StateUnresolved        ProcessState = "UNRESOLVED"
)

const processedMetric = "claims.webhook.processed.total"

// Delivery is one HTTP delivery as received off the wire. Body must be the
// exact bytes read from the transport; nil means the transport could not
// preserve them and the delivery fails verification with the
// raw-body-unavailable kind.
type Delivery struct {
	Body           []byte
	Timestamp      string
	Signature      string
	IdempotencyKey string
}

// Outcome is the terminal state of one processing attempt plus the response
// the transport layer should render.
type Outcome struct {
	State      ProcessState
	StatusCode int
	Status     string
	Message    string
	Retryable  bool
	Event      core.InboundEvent
	Claim      core.ClaimRef
}

type Resolver interface {
	Resolve(ctx context.Context, requestIDHash string) (core.ClaimRef, error)
}

// Processor drives a delivery through receive, verify, dedupe, resolve and
// apply. Verification and validation failures never reach the claim-mutation
// or audit layers; an unresolved claim leaves the ledger record pending so
// redelivery is a fresh attempt.
type Processor struct {
	Verifier SignatureVerifier
	Ledger   core.IdempotencyLedger
	Resolver Resolver
	Updater  core.ClaimUpdater
	Events   core.InboundEventStore
	Status   core.StatusEventStore
	Audit    *core.AuditRecorder
	Logger   core.Logger
	Metrics  core.MetricsRecorder

	inflight keyedMutex
}

// keyedMutex serializes concurrent deliveries of the same event id inside
// this process, so the slower delivery observes the faster one's terminal
// ledger state instead of racing it past the dedupe check.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	refs int
	mu   sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedLock{}
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func NewProcessor(
	verifier SignatureVerifier,
	ledger core.IdempotencyLedger,
	resolver Resolver,
	updater core.ClaimUpdater,
	events core.InboundEventStore,
	status core.StatusEventStore,
	audit *core.AuditRecorder,
) (*Processor, error) {
	if verifier == nil {
		return nil, fmt.Errorf("webhooks: signature verifier is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("webhooks: idempotency ledger is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("webhooks: claim resolver is required")
	}
	if updater == nil {
		return nil, fmt.Errorf("webhooks: claim updater is required")
	}
	if status == nil {
		return nil, fmt.Errorf("webhooks: status event store is required")
	}
	if audit == nil {
		return nil, fmt.Errorf("webhooks: audit recorder is required")
	}
	return &Processor{
		Verifier: verifier,
		Ledger:   ledger,
		Resolver: resolver,
		Updater:  updater,
		Events:   events,
		Status:   status,
		Audit:    audit,
	}, nil
}

func (p *Processor) Process(ctx context.Context, delivery Delivery) (Outcome, error) {
	if p == nil || p.Verifier == nil || p.Ledger == nil {
		return Outcome{}, fmt.Errorf("webhooks: processor is not configured")
	}

	// RECEIVED -> VERIFIED
	if err := p.Verifier.Verify(delivery.Body, delivery.Timestamp, delivery.Signature); err != nil {
		p.count(ctx, StateRejectedAuth)
		return p.rejected(StateRejectedAuth, err)
	}

	// VERIFIED -> DEDUPE_CHECKED
	event, err := DecodeInboundEvent(delivery.Body)
	if err != nil {
		p.count(ctx, StateRejectedMalformed)
		return p.rejected(StateRejectedMalformed, err)
	}

	// The header is sender-controlled and not independently verified; the
	// payload's eventId stays authoritative on mismatch.
	if key := strings.TrimSpace(delivery.IdempotencyKey); key != "" && key != event.EventID {
		p.logger(ctx).Warn("idempotency-key header does not match payload event id",
			"header_key", key,
			"event_id", event.EventID,
		)
	}

	return p.applyEvent(ctx, event)
}

// Replay re-drives an archived event through dedupe, resolve and apply.
// Signature verification is skipped: only events that passed it on first
// receipt exist in the archive. An already-applied event is a duplicate, not
// an error, so replay after partial failure is always safe.
func (p *Processor) Replay(ctx context.Context, eventID string) (Outcome, error) {
	if p == nil || p.Ledger == nil {
		return Outcome{}, fmt.Errorf("webhooks: processor is not configured")
	}
	if p.Events == nil {
		return Outcome{}, fmt.Errorf("webhooks: inbound event store is required for replay")
	}
	event, err := p.Events.Get(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return Outcome{}, err
	}
	return p.applyEvent(ctx, event)
}

func (p *Processor) applyEvent(ctx context.Context, event core.InboundEvent) (Outcome, error) {
	release := p.inflight.lock(event.EventID)
	defer release()

	reservation, err := p.Ledger.CheckAndReserve(ctx, event.EventID)
	if err != nil {
		return Outcome{}, err
	}
	if reservation == core.ReservationAlreadyApplied {
		p.count(ctx, StateDuplicate)
		return Outcome{
			State:      StateDuplicate,
			StatusCode: http.StatusOK,
			Status:     "duplicate",
			Message:    "event already applied",
			Event:      event,
		}, nil
	}
	if reservation == core.ReservationAlreadyRejected {
		p.count(ctx, StateRejectedMalformed)
		return Outcome{
			State:      StateRejectedMalformed,
			StatusCode: http.StatusBadRequest,
			Status:     "rejected",
			Message:    "event previously rejected",
			Event:      event,
		}, nil
	}
	if reservation == core.ReservationFirstSeen && p.Events != nil {
		if _, err := p.Events.Record(ctx, event); err != nil {
			return Outcome{}, err
		}
	}

	// DEDUPE_CHECKED -> RESOLVED
	claim, err := p.Resolver.Resolve(ctx, event.RequestIDHash)
	if err != nil {
		if errors.Is(err, core.ErrClaimNotFound) || core.IsRetryable(err) {
			p.count(ctx, StateUnresolved)
			return Outcome{
				State:      StateUnresolved,
				StatusCode: http.StatusNotFound,
				Message:    "claim is not resolvable yet",
				Retryable:  true,
				Event:      event,
			}, nil
		}
		return Outcome{}, err
	}

	// RESOLVED -> APPLIED
	if err := p.Updater.ApplyAdjudication(ctx, claim.ID, event); err != nil {
		if isPermanentApplyFailure(err) {
			// A validation failure from the claim store never heals on
			// redelivery; mark the ledger rejected so replays short circuit.
			if markErr := p.Ledger.MarkRejected(ctx, event.EventID); markErr != nil {
				return Outcome{}, markErr
			}
			p.Audit.RecordApplied(ctx, core.AuditSubjectEvent, event.EventID, "event.rejected", err.Error())
			p.count(ctx, StateRejectedMalformed)
			return p.rejected(StateRejectedMalformed, err)
		}
		return Outcome{}, err
	}

	p.Audit.RecordApplied(ctx, core.AuditSubjectEvent, event.EventID, "event.applied", string(event.EventType))

	if _, err := p.Status.Append(ctx, statusEventFor(claim, event)); err != nil {
		// Ledger record is still pending; redelivery re-applies and the
		// applied-event short circuit only engages after MarkApplied.
		return Outcome{}, err
	}

	if err := p.Ledger.MarkApplied(ctx, event.EventID); err != nil {
		return Outcome{}, err
	}

	p.count(ctx, StateApplied)
	return Outcome{
		State:      StateApplied,
		StatusCode: http.StatusOK,
		Status:     "applied",
		Message:    "event applied",
		Event:      event,
		Claim:      claim,
	}, nil
}

// isPermanentApplyFailure reports whether an apply error is a payload or
// state problem that redelivery cannot fix, as opposed to a transient
// store failure that should leave the ledger record pending.
func isPermanentApplyFailure(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return true
	}
	return false
}

func (p *Processor) rejected(state ProcessState, cause error) (Outcome, error) {
	status := http.StatusBadRequest
	var richErr *goerrors.Error
	if goerrors.As(cause, &richErr) {
		mapped := core.PipelineErrorMapper(richErr)
		if mapped != nil && mapped.Code > 0 {
			status = mapped.Code
		}
	} else if state == StateRejectedAuth {
		status = http.StatusUnauthorized
	}
	return Outcome{
		State:      state,
		StatusCode: status,
		Message:    cause.Error(),
	}, cause
}

func statusEventFor(claim core.ClaimRef, event core.InboundEvent) core.StatusEvent {
	kind := core.StatusKindAcknowledged
	detail := map[string]any{
		"event_id": event.EventID,
	}
	switch event.EventType {
	case core.EventTypeRequestAdjudicated:
		kind = core.StatusKindAdjudicated
		if event.Adjudication != nil {
			detail["outcome"] = string(event.Adjudication.Outcome)
			detail["allowed_amount_cents"] = event.Adjudication.AllowedAmountCents
		}
	case core.EventTypeRequestRejected:
		kind = core.StatusKindRejected
		if event.Adjudication != nil {
			detail["reason"] = event.Adjudication.Reason
		}
	case core.EventTypeSubmissionAcknowledged:
		if event.Acknowledgement != nil {
			detail["rail"] = event.Acknowledgement.Rail
			detail["rail_tracking_id"] = event.Acknowledgement.RailTrackingID
		}
	}
	return core.StatusEvent{
		ClaimID:     claim.ID,
		Source:      core.StatusSourceInboundWebhook,
		Kind:        kind,
		Timestamp:   event.OccurredAt,
		BlockNumber: event.Chain.BlockNumber,
		LogIndex:    event.Chain.LogIndex,
		Detail:      detail,
	}
}

func (p *Processor) logger(ctx context.Context) core.Logger {
	logger := glog.Ensure(p.Logger)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	return logger
}

func (p *Processor) count(ctx context.Context, state ProcessState) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.IncCounter(ctx, processedMetric, 1, map[string]string{
		"state": string(state),
	})
}
