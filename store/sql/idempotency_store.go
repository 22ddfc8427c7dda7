package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/claims-pipeline/core"
)

// IdempotencyLedgerStore is the durable ledger. The unique index on
// event_id makes the conditional insert the single-writer gate: under
// concurrent deliveries of the same event id exactly one insert wins and
// every loser reads the winner's record.
type IdempotencyLedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*idempotencyRecord]
}

func NewIdempotencyLedgerStore(db *bun.DB) (*IdempotencyLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*idempotencyRecord](db, idempotencyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid idempotency repository wiring: %w", err)
		}
	}
	return &IdempotencyLedgerStore{db: db, repo: repo}, nil
}

func (s *IdempotencyLedgerStore) CheckAndReserve(ctx context.Context, eventID string) (core.ReservationOutcome, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: idempotency ledger store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}

	now := time.Now().UTC()
	record := &idempotencyRecord{
		ID:            uuid.NewString(),
		EventID:       eventID,
		Status:        string(core.IdempotencyStatusPending),
		FirstSeenAt:   now,
		LastAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if !isUniqueViolation(err) {
			return "", err
		}
		existing, getErr := s.Get(ctx, eventID)
		if getErr != nil {
			return "", getErr
		}
		switch existing.Status {
		case core.IdempotencyStatusApplied:
			return core.ReservationAlreadyApplied, nil
		case core.IdempotencyStatusRejected:
			return core.ReservationAlreadyRejected, nil
		}
		if _, touchErr := s.db.NewUpdate().
			Model((*idempotencyRecord)(nil)).
			Set("last_attempt_at = ?", now).
			Set("updated_at = ?", now).
			Where("event_id = ?", eventID).
			Exec(ctx); touchErr != nil {
			return "", touchErr
		}
		return core.ReservationAlreadyPending, nil
	}
	return core.ReservationFirstSeen, nil
}

func (s *IdempotencyLedgerStore) MarkApplied(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID, core.IdempotencyStatusApplied)
}

func (s *IdempotencyLedgerStore) MarkRejected(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID, core.IdempotencyStatusRejected)
}

func (s *IdempotencyLedgerStore) Get(ctx context.Context, eventID string) (core.IdempotencyRecord, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyRecord{}, fmt.Errorf("sqlstore: idempotency ledger store is not configured")
	}
	record := &idempotencyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.event_id = ?", strings.TrimSpace(eventID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.IdempotencyRecord{}, fmt.Errorf("%w: event id %q", core.ErrEventNotFound, eventID)
		}
		return core.IdempotencyRecord{}, err
	}
	return idempotencyToDomain(record), nil
}

func (s *IdempotencyLedgerStore) transition(ctx context.Context, eventID string, status core.IdempotencyStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency ledger store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*idempotencyRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_attempt_at = ?", now).
		Set("updated_at = ?", now).
		Where("event_id = ?", eventID).
		Where("status = ?", string(core.IdempotencyStatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	existing, getErr := s.Get(ctx, eventID)
	if getErr != nil {
		return getErr
	}
	if existing.Status == status {
		return nil
	}
	return fmt.Errorf(
		"sqlstore: event %s is already terminal (%s) and cannot move to %s",
		eventID, existing.Status, status,
	)
}

func idempotencyToDomain(record *idempotencyRecord) core.IdempotencyRecord {
	if record == nil {
		return core.IdempotencyRecord{}
	}
	return core.IdempotencyRecord{
		EventID:       record.EventID,
		Status:        core.IdempotencyStatus(record.Status),
		FirstSeenAt:   record.FirstSeenAt,
		LastAttemptAt: record.LastAttemptAt,
	}
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
