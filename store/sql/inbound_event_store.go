package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/claims-pipeline/core"
)

// InboundEventStore archives every first-seen inbound event verbatim. A
// duplicate event id collapses into the existing row; the archive never holds
// two copies of the same event.
type InboundEventStore struct {
	db   *bun.DB
	repo repository.Repository[*inboundEventRecord]
}

func NewInboundEventStore(db *bun.DB) (*InboundEventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundEventRecord](db, inboundEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid inbound event repository wiring: %w", err)
		}
	}
	return &InboundEventStore{db: db, repo: repo}, nil
}

func (s *InboundEventStore) Record(ctx context.Context, event core.InboundEvent) (core.InboundEvent, error) {
	if s == nil || s.db == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	if err := event.Validate(); err != nil {
		return core.InboundEvent{}, err
	}

	record, err := inboundEventFromDomain(event)
	if err != nil {
		return core.InboundEvent{}, err
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.Get(ctx, event.EventID)
		}
		return core.InboundEvent{}, err
	}
	return event, nil
}

func (s *InboundEventStore) Get(ctx context.Context, eventID string) (core.InboundEvent, error) {
	if s == nil || s.db == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event store is not configured")
	}
	record := &inboundEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.InboundEvent{}, fmt.Errorf("%w: event id %q", core.ErrEventNotFound, eventID)
		}
		return core.InboundEvent{}, err
	}
	return inboundEventToDomain(record)
}

func inboundEventFromDomain(event core.InboundEvent) (*inboundEventRecord, error) {
	payload := map[string]any{}
	switch {
	case event.Adjudication != nil:
		payload["outcome"] = string(event.Adjudication.Outcome)
		payload["allowed_amount_cents"] = event.Adjudication.AllowedAmountCents
		payload["reason"] = event.Adjudication.Reason
		payload["rail"] = event.Adjudication.Rail
		payload["rail_tracking_id"] = event.Adjudication.RailTrackingID
	case event.Acknowledgement != nil:
		payload["rail"] = event.Acknowledgement.Rail
		payload["rail_tracking_id"] = event.Acknowledgement.RailTrackingID
	}
	now := time.Now().UTC()
	return &inboundEventRecord{
		ID:              uuid.NewString(),
		EventID:         event.EventID,
		EventType:       string(event.EventType),
		ChainID:         event.Chain.ChainID,
		ContractAddress: event.Chain.ContractAddress,
		BlockNumber:     event.Chain.BlockNumber,
		BlockHash:       event.Chain.BlockHash,
		TxHash:          event.Chain.TxHash,
		LogIndex:        event.Chain.LogIndex,
		RequestIDHash:   event.RequestIDHash,
		OccurredAt:      event.OccurredAt.UTC(),
		Payload:         payload,
		Raw:             append([]byte(nil), event.Raw...),
		CreatedAt:       now,
	}, nil
}

func inboundEventToDomain(record *inboundEventRecord) (core.InboundEvent, error) {
	if record == nil {
		return core.InboundEvent{}, fmt.Errorf("sqlstore: inbound event record is nil")
	}
	eventType, err := core.ParseEventType(record.EventType)
	if err != nil {
		return core.InboundEvent{}, err
	}
	event := core.InboundEvent{
		EventID:   record.EventID,
		EventType: eventType,
		Chain: core.ChainRef{
			ChainID:         record.ChainID,
			ContractAddress: record.ContractAddress,
			BlockNumber:     record.BlockNumber,
			BlockHash:       record.BlockHash,
			TxHash:          record.TxHash,
			LogIndex:        record.LogIndex,
		},
		RequestIDHash: record.RequestIDHash,
		OccurredAt:    record.OccurredAt,
		Raw:           append([]byte(nil), record.Raw...),
	}
	switch eventType {
	case core.EventTypeRequestAdjudicated, core.EventTypeRequestRejected:
		decision := core.AdjudicationDecision{
			Outcome:            core.AdjudicationOutcome(payloadString(record.Payload, "outcome")),
			AllowedAmountCents: payloadInt64(record.Payload, "allowed_amount_cents"),
			Reason:             payloadString(record.Payload, "reason"),
			Rail:               payloadString(record.Payload, "rail"),
			RailTrackingID:     payloadString(record.Payload, "rail_tracking_id"),
		}
		event.Adjudication = &decision
	case core.EventTypeSubmissionAcknowledged:
		detail := core.AcknowledgementDetail{
			Rail:           payloadString(record.Payload, "rail"),
			RailTrackingID: payloadString(record.Payload, "rail_tracking_id"),
		}
		event.Acknowledgement = &detail
	}
	return event, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return value
}

// payloadInt64 tolerates the numeric types the driver round-trips jsonb
// columns through.
func payloadInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
