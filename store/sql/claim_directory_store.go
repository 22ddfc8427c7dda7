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

// ClaimDirectoryStore backs both the lookup surface the resolver probes and
// the adjudication write applied once per verified event.
type ClaimDirectoryStore struct {
	db   *bun.DB
	repo repository.Repository[*claimRecord]
}

func NewClaimDirectoryStore(db *bun.DB) (*ClaimDirectoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*claimRecord](db, claimHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid claim repository wiring: %w", err)
		}
	}
	return &ClaimDirectoryStore{db: db, repo: repo}, nil
}

func (s *ClaimDirectoryStore) Get(ctx context.Context, claimID string) (core.ClaimRef, error) {
	return s.getBy(ctx, "id", claimID)
}

func (s *ClaimDirectoryStore) GetByReferenceNumber(ctx context.Context, referenceNumber string) (core.ClaimRef, error) {
	return s.getBy(ctx, "reference_number", referenceNumber)
}

func (s *ClaimDirectoryStore) GetByRailTrackingID(ctx context.Context, trackingID string) (core.ClaimRef, error) {
	return s.getBy(ctx, "rail_tracking_id", trackingID)
}

func (s *ClaimDirectoryStore) getBy(ctx context.Context, column string, value string) (core.ClaimRef, error) {
	if s == nil || s.db == nil {
		return core.ClaimRef{}, fmt.Errorf("sqlstore: claim directory store is not configured")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return core.ClaimRef{}, fmt.Errorf("%w: empty %s", core.ErrClaimNotFound, column)
	}
	record := &claimRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.ClaimRef{}, fmt.Errorf("%w: %s %q", core.ErrClaimNotFound, column, value)
		}
		return core.ClaimRef{}, err
	}
	return claimToDomain(record), nil
}

// ApplyAdjudication writes the decision onto the claim row. The row-scoped
// update is the atomicity the pipeline relies on; the pipeline's ledger keeps
// repeats away, not this method.
func (s *ClaimDirectoryStore) ApplyAdjudication(ctx context.Context, claimID string, event core.InboundEvent) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: claim directory store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}

	now := time.Now().UTC()
	update := s.db.NewUpdate().
		Model((*claimRecord)(nil)).
		Set("updated_at = ?", now).
		Where("id = ?", claimID)

	switch event.EventType {
	case core.EventTypeRequestAdjudicated, core.EventTypeRequestRejected:
		if event.Adjudication == nil {
			return fmt.Errorf("sqlstore: %s event carries no adjudication payload", event.EventType)
		}
		update = update.
			Set("adjudication_state = ?", string(event.Adjudication.Outcome)).
			Set("allowed_amount_cents = ?", event.Adjudication.AllowedAmountCents).
			Set("adjudicated_at = ?", event.OccurredAt.UTC())
		if trackingID := strings.TrimSpace(event.Adjudication.RailTrackingID); trackingID != "" {
			update = update.Set("rail_tracking_id = ?", trackingID)
		}
	case core.EventTypeSubmissionAcknowledged:
		if event.Acknowledgement == nil {
			return fmt.Errorf("sqlstore: %s event carries no acknowledgement payload", event.EventType)
		}
		if trackingID := strings.TrimSpace(event.Acknowledgement.RailTrackingID); trackingID != "" {
			update = update.Set("rail_tracking_id = ?", trackingID)
		}
	default:
		return fmt.Errorf("sqlstore: unsupported event type %q", event.EventType)
	}

	result, err := update.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", core.ErrClaimNotFound, claimID)
	}
	return nil
}

// Upsert registers a claim in the directory. Used by seeding and by the
// collaborator sync path, not by the webhook pipeline itself.
func (s *ClaimDirectoryStore) Upsert(ctx context.Context, claim core.ClaimRef) (core.ClaimRef, error) {
	if s == nil || s.db == nil {
		return core.ClaimRef{}, fmt.Errorf("sqlstore: claim directory store is not configured")
	}
	if strings.TrimSpace(claim.ReferenceNumber) == "" {
		return core.ClaimRef{}, fmt.Errorf("sqlstore: claim reference number is required")
	}
	if strings.TrimSpace(claim.ID) == "" {
		claim.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	record := &claimRecord{
		ID:              strings.TrimSpace(claim.ID),
		ReferenceNumber: strings.TrimSpace(claim.ReferenceNumber),
		RailTrackingID:  strings.TrimSpace(claim.RailTrackingID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("reference_number = EXCLUDED.reference_number").
		Set("rail_tracking_id = EXCLUDED.rail_tracking_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.ClaimRef{}, err
	}
	return claimToDomain(record), nil
}

func claimToDomain(record *claimRecord) core.ClaimRef {
	if record == nil {
		return core.ClaimRef{}
	}
	return core.ClaimRef{
		ID:              record.ID,
		ReferenceNumber: record.ReferenceNumber,
		RailTrackingID:  record.RailTrackingID,
	}
}
