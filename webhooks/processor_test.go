package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/claims-pipeline/core"
)

type stubResolver struct {
	mu     sync.Mutex
	claims map[string]core.ClaimRef
}

func (r *stubResolver) Resolve(_ context.Context, requestIDHash string) (core.ClaimRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if claim, ok := r.claims[requestIDHash]; ok {
		return claim, nil
	}
	return core.ClaimRef{}, fmt.Errorf("%w: %s", core.ErrClaimNotFound, requestIDHash)
}

func (r *stubResolver) add(requestIDHash string, claim core.ClaimRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims == nil {
		r.claims = map[string]core.ClaimRef{}
	}
	r.claims[requestIDHash] = claim
}

type recordingUpdater struct {
	mu      sync.Mutex
	applied []string
	fail    error
}

func (u *recordingUpdater) ApplyAdjudication(_ context.Context, claimID string, _ core.InboundEvent) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail != nil {
		return u.fail
	}
	u.applied = append(u.applied, claimID)
	return nil
}

func (u *recordingUpdater) failWith(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fail = err
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.applied)
}

type recordingEventStore struct {
	mu     sync.Mutex
	events map[string]core.InboundEvent
}

func (s *recordingEventStore) Record(_ context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = map[string]core.InboundEvent{}
	}
	s.events[event.EventID] = event
	return event, nil
}

func (s *recordingEventStore) Get(_ context.Context, eventID string) (core.InboundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.events[eventID]; ok {
		return event, nil
	}
	return core.InboundEvent{}, core.ErrEventNotFound
}

type recordingStatusStore struct {
	mu     sync.Mutex
	events []core.StatusEvent
}

func (s *recordingStatusStore) Append(_ context.Context, event core.StatusEvent) (core.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return event, nil
}

func (s *recordingStatusStore) ListByClaim(_ context.Context, claimID string) ([]core.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []core.StatusEvent
	for _, event := range s.events {
		if event.ClaimID == claimID {
			matched = append(matched, event)
		}
	}
	return matched, nil
}

type recordingAuditStore struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (s *recordingAuditStore) Append(_ context.Context, entry core.AuditEntry) (core.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *recordingAuditStore) ListBySubject(_ context.Context, subjectID string) ([]core.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []core.AuditEntry
	for _, entry := range s.entries {
		if entry.SubjectID == subjectID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *recordingAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type processorHarness struct {
	processor *Processor
	resolver  *stubResolver
	updater   *recordingUpdater
	events    *recordingEventStore
	status    *recordingStatusStore
	audit     *recordingAuditStore
	ledger    *core.MemoryIdempotencyLedger
}

func newProcessorHarness(t *testing.T) *processorHarness {
	t.Helper()
	resolver := &stubResolver{}
	updater := &recordingUpdater{}
	status := &recordingStatusStore{}
	auditStore := &recordingAuditStore{}
	recorder, err := core.NewAuditRecorder(auditStore, nil, nil)
	if err != nil {
		t.Fatalf("new audit recorder: %v", err)
	}
	ledger := core.NewMemoryIdempotencyLedger()
	events := &recordingEventStore{}
	processor, err := NewProcessor(
		newTestVerifier(t, "whsec_test", ""),
		ledger,
		resolver,
		updater,
		events,
		status,
		recorder,
	)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return &processorHarness{
		processor: processor,
		resolver:  resolver,
		updater:   updater,
		events:    events,
		status:    status,
		audit:     auditStore,
		ledger:    ledger,
	}
}

func signedDelivery(body []byte) Delivery {
	ts := freshTimestamp()
	return Delivery{
		Body:      body,
		Timestamp: ts,
		Signature: Sign("whsec_test", ts, body),
	}
}

func TestProcessAppliesNewEvent(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1", ReferenceNumber: "hash-claim-1"})

	outcome, err := harness.processor.Process(context.Background(), signedDelivery([]byte(adjudicatedPayload)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.State != StateApplied || outcome.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Status != "applied" {
		t.Fatalf("expected applied status, got %q", outcome.Status)
	}
	if harness.updater.count() != 1 {
		t.Fatalf("expected exactly one claim mutation, got %d", harness.updater.count())
	}
	if harness.audit.count() != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", harness.audit.count())
	}
	history, _ := harness.status.ListByClaim(context.Background(), "claim-1")
	if len(history) != 1 || history[0].Kind != core.StatusKindAdjudicated {
		t.Fatalf("unexpected status history %+v", history)
	}
	record, err := harness.ledger.Get(context.Background(), "evt-adj-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != core.IdempotencyStatusApplied {
		t.Fatalf("expected applied ledger record, got %q", record.Status)
	}
}

func TestProcessRedeliveryIsDuplicateNoOp(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	delivery := signedDelivery([]byte(adjudicatedPayload))

	if _, err := harness.processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome.State != StateDuplicate || outcome.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Status != "duplicate" {
		t.Fatalf("expected duplicate status, got %q", outcome.Status)
	}
	if harness.updater.count() != 1 {
		t.Fatalf("duplicate delivery must not reapply, got %d mutations", harness.updater.count())
	}
	if harness.audit.count() != 1 {
		t.Fatalf("duplicate delivery must not re-audit, got %d entries", harness.audit.count())
	}
}

func TestProcessUnresolvedStaysRetryable(t *testing.T) {
	harness := newProcessorHarness(t)
	delivery := signedDelivery([]byte(adjudicatedPayload))

	for range 3 {
		outcome, err := harness.processor.Process(context.Background(), delivery)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if outcome.State != StateUnresolved || outcome.StatusCode != http.StatusNotFound {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
		if !outcome.Retryable {
			t.Fatalf("unresolved delivery must advertise retryable")
		}
	}
	if harness.audit.count() != 0 {
		t.Fatalf("unresolved deliveries must not write audit entries")
	}
	record, err := harness.ledger.Get(context.Background(), "evt-adj-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != core.IdempotencyStatusPending {
		t.Fatalf("ledger must stay pending while unresolved, got %q", record.Status)
	}

	// Claim shows up later; redelivery applies, a further redelivery dedupes.
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("redelivery after claim creation: %v", err)
	}
	if outcome.State != StateApplied || outcome.Status != "applied" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	outcome, err = harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("final redelivery: %v", err)
	}
	if outcome.Status != "duplicate" {
		t.Fatalf("expected duplicate after apply, got %q", outcome.Status)
	}
}

func TestProcessRejectsMissingRawBodyAsServerFault(t *testing.T) {
	harness := newProcessorHarness(t)
	delivery := signedDelivery([]byte(adjudicatedPayload))
	delivery.Body = nil

	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err == nil {
		t.Fatalf("expected missing raw body to be rejected")
	}
	if outcome.State != StateRejectedAuth {
		t.Fatalf("unexpected state %q", outcome.State)
	}
	if outcome.StatusCode != http.StatusInternalServerError {
		t.Fatalf("raw body loss is a server fault, got %d", outcome.StatusCode)
	}
	if harness.updater.count() != 0 || harness.audit.count() != 0 {
		t.Fatalf("rejected delivery must not reach mutation or audit layers")
	}
}

func TestProcessRejectsBadSignature(t *testing.T) {
	harness := newProcessorHarness(t)
	ts := freshTimestamp()
	delivery := Delivery{
		Body:      []byte(adjudicatedPayload),
		Timestamp: ts,
		Signature: Sign("whsec_wrong", ts, []byte(adjudicatedPayload)),
	}

	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err == nil {
		t.Fatalf("expected forged signature to be rejected")
	}
	if outcome.State != StateRejectedAuth || outcome.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	harness := newProcessorHarness(t)
	body := []byte(`{"eventId": "evt-1", "eventType": "REQUEST_ADJUDICATED"}`)

	outcome, err := harness.processor.Process(context.Background(), signedDelivery(body))
	if err == nil {
		t.Fatalf("expected malformed payload to be rejected")
	}
	if outcome.State != StateRejectedMalformed || outcome.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if harness.updater.count() != 0 {
		t.Fatalf("malformed delivery must not reach the mutation layer")
	}
}

func TestProcessTrustsPayloadOverIdempotencyHeader(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	delivery := signedDelivery([]byte(adjudicatedPayload))
	delivery.IdempotencyKey = "evt-some-other-id"

	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.State != StateApplied {
		t.Fatalf("header mismatch is advisory only, got %q", outcome.State)
	}
	record, err := harness.ledger.Get(context.Background(), "evt-adj-1")
	if err != nil || record.Status != core.IdempotencyStatusApplied {
		t.Fatalf("payload event id is the authoritative dedupe key: %v %+v", err, record)
	}
}

func TestProcessConcurrentDeliveriesApplyOnce(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	delivery := signedDelivery([]byte(adjudicatedPayload))

	const deliveries = 16
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := harness.processor.Process(context.Background(), delivery); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent delivery failed: %v", err)
	}

	if harness.updater.count() != 1 {
		t.Fatalf("expected exactly one claim mutation, got %d", harness.updater.count())
	}
	if harness.audit.count() != 1 {
		t.Fatalf("expected exactly one audit entry, got %d", harness.audit.count())
	}
}

func TestProcessPermanentApplyFailureRejectsEvent(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	harness.updater.failWith(goerrors.New("adjudication amount is negative", goerrors.CategoryValidation))
	delivery := signedDelivery([]byte(adjudicatedPayload))

	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err == nil {
		t.Fatalf("expected validation failure to surface")
	}
	if outcome.State != StateRejectedMalformed || outcome.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	record, err := harness.ledger.Get(context.Background(), "evt-adj-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != core.IdempotencyStatusRejected {
		t.Fatalf("expected rejected ledger record, got %q", record.Status)
	}
	entries, _ := harness.audit.ListBySubject(context.Background(), "evt-adj-1")
	if len(entries) != 1 || entries[0].Action != "event.rejected" {
		t.Fatalf("expected one event.rejected audit entry, got %+v", entries)
	}

	// Redelivery short circuits on the terminal record and never retries
	// the mutation, even though the updater would now succeed.
	harness.updater.failWith(nil)
	outcome, err = harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("redelivery of rejected event: %v", err)
	}
	if outcome.State != StateRejectedMalformed || outcome.Status != "rejected" {
		t.Fatalf("unexpected redelivery outcome %+v", outcome)
	}
	if harness.updater.count() != 0 {
		t.Fatalf("rejected event must not reach the mutation layer, got %d", harness.updater.count())
	}
}

func TestProcessTransientApplyFailureStaysPending(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	harness.updater.failWith(fmt.Errorf("claim store: connection reset"))
	delivery := signedDelivery([]byte(adjudicatedPayload))

	if _, err := harness.processor.Process(context.Background(), delivery); err == nil {
		t.Fatalf("expected transient failure to surface")
	}
	record, err := harness.ledger.Get(context.Background(), "evt-adj-1")
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if record.Status != core.IdempotencyStatusPending {
		t.Fatalf("transient failure must leave the record pending, got %q", record.Status)
	}

	// Store recovers; redelivery applies normally.
	harness.updater.failWith(nil)
	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	if outcome.State != StateApplied {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestReplayAppliedEventIsDuplicate(t *testing.T) {
	harness := newProcessorHarness(t)
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})

	if _, err := harness.processor.Process(context.Background(), signedDelivery([]byte(adjudicatedPayload))); err != nil {
		t.Fatalf("process: %v", err)
	}
	outcome, err := harness.processor.Replay(context.Background(), "evt-adj-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if outcome.State != StateDuplicate || outcome.Status != "duplicate" {
		t.Fatalf("replay of an applied event must dedupe, got %+v", outcome)
	}
	if harness.updater.count() != 1 {
		t.Fatalf("replay must not reapply, got %d mutations", harness.updater.count())
	}
}

func TestReplayCompletesEventLeftUnresolved(t *testing.T) {
	harness := newProcessorHarness(t)
	delivery := signedDelivery([]byte(adjudicatedPayload))

	outcome, err := harness.processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.State != StateUnresolved {
		t.Fatalf("expected unresolved first pass, got %q", outcome.State)
	}

	// Claim appears later; replay finishes the job without a redelivery.
	harness.resolver.add("hash-claim-1", core.ClaimRef{ID: "claim-1"})
	outcome, err = harness.processor.Replay(context.Background(), "evt-adj-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if outcome.State != StateApplied || outcome.Status != "applied" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if harness.updater.count() != 1 {
		t.Fatalf("expected one claim mutation, got %d", harness.updater.count())
	}

	if _, err := harness.processor.Replay(context.Background(), "evt-missing"); err == nil {
		t.Fatalf("expected unknown event id to fail replay")
	}
}
