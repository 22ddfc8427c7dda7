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

// AuditEntryStore is the append-only compliance trail. No update or delete
// path exists on purpose.
type AuditEntryStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditEntryStore(db *bun.DB) (*AuditEntryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit entry repository wiring: %w", err)
		}
	}
	return &AuditEntryStore{db: db, repo: repo}, nil
}

func (s *AuditEntryStore) Append(ctx context.Context, entry core.AuditEntry) (core.AuditEntry, error) {
	if s == nil || s.db == nil {
		return core.AuditEntry{}, fmt.Errorf("sqlstore: audit entry store is not configured")
	}
	if err := entry.Validate(); err != nil {
		return core.AuditEntry{}, err
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if strings.TrimSpace(entry.ActorType) == "" {
		entry.ActorType = core.AuditActorSystem
	}

	record := &auditEntryRecord{
		ID:          entry.ID,
		SubjectID:   strings.TrimSpace(entry.SubjectID),
		SubjectKind: string(entry.SubjectKind),
		ActorType:   entry.ActorType,
		Action:      entry.Action,
		Outcome:     entry.Outcome,
		Timestamp:   entry.Timestamp.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.AuditEntry{}, err
	}
	return auditEntryToDomain(record), nil
}

func (s *AuditEntryStore) ListBySubject(ctx context.Context, subjectID string) ([]core.AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: audit entry store is not configured")
	}
	var records []*auditEntryRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.subject_id = ?", strings.TrimSpace(subjectID)).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, auditEntryToDomain(record))
	}
	return entries, nil
}

func auditEntryToDomain(record *auditEntryRecord) core.AuditEntry {
	if record == nil {
		return core.AuditEntry{}
	}
	return core.AuditEntry{
		ID:          record.ID,
		SubjectID:   record.SubjectID,
		SubjectKind: core.AuditSubjectKind(record.SubjectKind),
		ActorType:   record.ActorType,
		Action:      record.Action,
		Outcome:     record.Outcome,
		Timestamp:   record.Timestamp,
	}
}
