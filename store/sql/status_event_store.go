package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/claims-pipeline/core"
)

// StatusEventStore is the append-only connector history. Rows are never
// updated or deleted; readers order with core.OrderStatusEvents rather than
// trusting insert order.
type StatusEventStore struct {
	db   *bun.DB
	repo repository.Repository[*statusEventRecord]
}

func NewStatusEventStore(db *bun.DB) (*StatusEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*statusEventRecord](db, statusEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid status event repository wiring: %w", err)
		}
	}
	return &StatusEventStore{db: db, repo: repo}, nil
}

func (s *StatusEventStore) Append(ctx context.Context, event core.StatusEvent) (core.StatusEvent, error) {
	if s == nil || s.db == nil {
		return core.StatusEvent{}, fmt.Errorf("sqlstore: status event store is not configured")
	}
	if err := event.Validate(); err != nil {
		return core.StatusEvent{}, err
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	record := &statusEventRecord{
		ID:          event.ID,
		ClaimID:     strings.TrimSpace(event.ClaimID),
		Source:      string(event.Source),
		Kind:        event.Kind,
		Timestamp:   event.Timestamp.UTC(),
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
		Detail:      copyAnyMap(event.Detail),
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.StatusEvent{}, err
	}
	return statusEventToDomain(record), nil
}

func (s *StatusEventStore) ListByClaim(ctx context.Context, claimID string) ([]core.StatusEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: status event store is not configured")
	}
	var records []*statusEventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.claim_id = ?", strings.TrimSpace(claimID)).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]core.StatusEvent, 0, len(records))
	for _, record := range records {
		events = append(events, statusEventToDomain(record))
	}
	return core.OrderStatusEvents(events), nil
}

func statusEventToDomain(record *statusEventRecord) core.StatusEvent {
	if record == nil {
		return core.StatusEvent{}
	}
	return core.StatusEvent{
		ID:          record.ID,
		ClaimID:     record.ClaimID,
		Source:      core.StatusEventSource(record.Source),
		Kind:        record.Kind,
		Timestamp:   record.Timestamp,
		BlockNumber: record.BlockNumber,
		LogIndex:    record.LogIndex,
		Detail:      copyAnyMap(record.Detail),
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
