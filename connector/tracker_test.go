package connector

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/claims-pipeline/core"
)

func TestHistoryMergesSourcesInTimestampOrder(t *testing.T) {
	store := &memoryStatusStore{}
	base := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)

	seed := []core.StatusEvent{
		{ID: "adj", ClaimID: "claim-1", Source: core.StatusSourceInboundWebhook, Kind: core.StatusKindAdjudicated, Timestamp: base.Add(2 * time.Hour)},
		{ID: "sub", ClaimID: "claim-1", Source: core.StatusSourceOutboundSubmission, Kind: core.StatusKindSubmitted, Timestamp: base},
		{ID: "ack", ClaimID: "claim-1", Source: core.StatusSourceInboundWebhook, Kind: core.StatusKindAcknowledged, Timestamp: base.Add(time.Hour)},
		{ID: "other", ClaimID: "claim-2", Source: core.StatusSourceOutboundSubmission, Kind: core.StatusKindSubmitted, Timestamp: base},
	}
	for _, event := range seed {
		if _, err := store.Append(context.Background(), event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tracker, err := NewStatusTracker(store)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	history, err := tracker.History(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 events for claim-1, got %d", len(history))
	}
	if history[0].Kind != core.StatusKindSubmitted ||
		history[1].Kind != core.StatusKindAcknowledged ||
		history[2].Kind != core.StatusKindAdjudicated {
		t.Fatalf("unexpected order: %q %q %q", history[0].Kind, history[1].Kind, history[2].Kind)
	}
}

func TestHistoryBreaksTimestampTiesWithChainOrder(t *testing.T) {
	store := &memoryStatusStore{}
	shared := time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)

	seed := []core.StatusEvent{
		{ID: "late", ClaimID: "claim-1", Source: core.StatusSourceInboundWebhook, Kind: core.StatusKindAdjudicated, Timestamp: shared, BlockNumber: 100, LogIndex: 4},
		{ID: "early", ClaimID: "claim-1", Source: core.StatusSourceInboundWebhook, Kind: core.StatusKindAcknowledged, Timestamp: shared, BlockNumber: 100, LogIndex: 1},
	}
	for _, event := range seed {
		if _, err := store.Append(context.Background(), event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tracker, _ := NewStatusTracker(store)
	history, err := tracker.History(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history[0].ID != "early" || history[1].ID != "late" {
		t.Fatalf("expected chain-order tiebreak, got %q then %q", history[0].ID, history[1].ID)
	}
}

func TestHistoryIsStableAcrossReads(t *testing.T) {
	store := &memoryStatusStore{}
	base := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	for i := range 5 {
		_, _ = store.Append(context.Background(), core.StatusEvent{
			ID:        string(rune('a' + i)),
			ClaimID:   "claim-1",
			Source:    core.StatusSourceOutboundSubmission,
			Kind:      core.StatusKindSubmitted,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	tracker, _ := NewStatusTracker(store)
	first, err := tracker.History(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	second, err := tracker.History(context.Background(), "claim-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("read is not stable: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("read is not stable at index %d", i)
		}
	}
}

func TestHistoryRequiresClaimID(t *testing.T) {
	tracker, _ := NewStatusTracker(&memoryStatusStore{})
	if _, err := tracker.History(context.Background(), "  "); err == nil {
		t.Fatalf("expected blank claim id to be rejected")
	}
}
