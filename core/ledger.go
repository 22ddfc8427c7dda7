package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryIdempotencyLedger is the in-process IdempotencyLedger used by tests
// and single-node development runs. Production deployments use the durable
// sqlstore implementation; an in-memory ledger re-applies events after a
// restart.
type MemoryIdempotencyLedger struct {
	mu      sync.Mutex
	entries map[string]IdempotencyRecord
	Now     func() time.Time
}

func NewMemoryIdempotencyLedger() *MemoryIdempotencyLedger {
	return &MemoryIdempotencyLedger{
		entries: map[string]IdempotencyRecord{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryIdempotencyLedger) CheckAndReserve(_ context.Context, eventID string) (ReservationOutcome, error) {
	if l == nil {
		return "", fmt.Errorf("core: idempotency ledger is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("core: event id is required")
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.entries[eventID]
	if !exists {
		l.entries[eventID] = IdempotencyRecord{
			EventID:       eventID,
			Status:        IdempotencyStatusPending,
			FirstSeenAt:   now,
			LastAttemptAt: now,
		}
		return ReservationFirstSeen, nil
	}

	// Applied and rejected records are terminal; only they block
	// reprocessing. A pending record stays retryable indefinitely.
	switch record.Status {
	case IdempotencyStatusApplied:
		return ReservationAlreadyApplied, nil
	case IdempotencyStatusRejected:
		return ReservationAlreadyRejected, nil
	}
	record.LastAttemptAt = now
	l.entries[eventID] = record
	return ReservationAlreadyPending, nil
}

func (l *MemoryIdempotencyLedger) MarkApplied(_ context.Context, eventID string) error {
	return l.transition(eventID, IdempotencyStatusApplied)
}

func (l *MemoryIdempotencyLedger) MarkRejected(_ context.Context, eventID string) error {
	return l.transition(eventID, IdempotencyStatusRejected)
}

func (l *MemoryIdempotencyLedger) Get(_ context.Context, eventID string) (IdempotencyRecord, error) {
	if l == nil {
		return IdempotencyRecord{}, fmt.Errorf("core: idempotency ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, exists := l.entries[strings.TrimSpace(eventID)]
	if !exists {
		return IdempotencyRecord{}, fmt.Errorf("%w: event %q", ErrEventNotFound, eventID)
	}
	return record, nil
}

func (l *MemoryIdempotencyLedger) transition(eventID string, status IdempotencyStatus) error {
	if l == nil {
		return fmt.Errorf("core: idempotency ledger is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("core: event id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, exists := l.entries[eventID]
	if !exists {
		return fmt.Errorf("%w: event %q", ErrEventNotFound, eventID)
	}
	if record.Status != IdempotencyStatusPending && record.Status != status {
		return fmt.Errorf("core: idempotency record %q is terminal (%s)", eventID, record.Status)
	}
	record.Status = status
	record.LastAttemptAt = l.now()
	l.entries[eventID] = record
	return nil
}

func (l *MemoryIdempotencyLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ IdempotencyLedger = (*MemoryIdempotencyLedger)(nil)
