package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/claims-pipeline/core"
)

// StatusTracker answers "history for claim X" from the append-only status
// event log. Read-only; the claim record itself stays the system of record.
type StatusTracker struct {
	store core.StatusEventStore
}

func NewStatusTracker(store core.StatusEventStore) (*StatusTracker, error) {
	if store == nil {
		return nil, fmt.Errorf("connector: status event store is required")
	}
	return &StatusTracker{store: store}, nil
}

// History merges inbound-webhook and outbound-submission events ordered by
// timestamp with (block number, log index) as the tiebreak.
func (t *StatusTracker) History(ctx context.Context, claimID string) ([]core.StatusEvent, error) {
	if t == nil || t.store == nil {
		return nil, fmt.Errorf("connector: status tracker is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return nil, fmt.Errorf("connector: claim id is required")
	}
	events, err := t.store.ListByClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	return core.OrderStatusEvents(events), nil
}
