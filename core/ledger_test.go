package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLedgerFirstSeenThenPending(t *testing.T) {
	ledger := NewMemoryIdempotencyLedger()
	ledger.Now = func() time.Time {
		return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	}

	outcome, err := ledger.CheckAndReserve(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if outcome != ReservationFirstSeen {
		t.Fatalf("expected first_seen, got %q", outcome)
	}

	// A pending record never blocks reprocessing.
	outcome, err = ledger.CheckAndReserve(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("reserve again: %v", err)
	}
	if outcome != ReservationAlreadyPending {
		t.Fatalf("expected already_pending, got %q", outcome)
	}

	record, err := ledger.Get(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != IdempotencyStatusPending {
		t.Fatalf("expected pending status, got %q", record.Status)
	}
}

func TestMemoryLedgerAppliedShortCircuits(t *testing.T) {
	ledger := NewMemoryIdempotencyLedger()
	if _, err := ledger.CheckAndReserve(context.Background(), "evt-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.MarkApplied(context.Background(), "evt-1"); err != nil {
		t.Fatalf("mark applied: %v", err)
	}

	outcome, err := ledger.CheckAndReserve(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("reserve applied: %v", err)
	}
	if outcome != ReservationAlreadyApplied {
		t.Fatalf("expected already_applied, got %q", outcome)
	}
}

func TestMemoryLedgerRejectedIsDistinctFromApplied(t *testing.T) {
	ledger := NewMemoryIdempotencyLedger()
	if _, err := ledger.CheckAndReserve(context.Background(), "evt-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.MarkRejected(context.Background(), "evt-1"); err != nil {
		t.Fatalf("mark rejected: %v", err)
	}

	outcome, err := ledger.CheckAndReserve(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("reserve rejected: %v", err)
	}
	if outcome != ReservationAlreadyRejected {
		t.Fatalf("expected already_rejected, got %q", outcome)
	}
}

func TestMemoryLedgerMarkAppliedUnknownEvent(t *testing.T) {
	ledger := NewMemoryIdempotencyLedger()
	if err := ledger.MarkApplied(context.Background(), "missing"); err == nil {
		t.Fatalf("expected unknown event to fail")
	}
}

func TestMemoryLedgerConcurrentReservationSingleFirstSeen(t *testing.T) {
	ledger := NewMemoryIdempotencyLedger()

	const deliveries = 32
	var wg sync.WaitGroup
	outcomes := make([]ReservationOutcome, deliveries)
	wg.Add(deliveries)
	for i := 0; i < deliveries; i++ {
		go func(slot int) {
			defer wg.Done()
			outcome, err := ledger.CheckAndReserve(context.Background(), "evt-race")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			outcomes[slot] = outcome
		}(i)
	}
	wg.Wait()

	firstSeen := 0
	for _, outcome := range outcomes {
		if outcome == ReservationFirstSeen {
			firstSeen++
		}
	}
	if firstSeen != 1 {
		t.Fatalf("expected exactly one first_seen, got %d", firstSeen)
	}
}
