package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/claims-pipeline/core"
)

// RepositoryFactory wires every sql-backed store off one bun handle so a
// process shares a single pool across the pipeline.
type RepositoryFactory struct {
	db *bun.DB

	idempotencyLedgerStore *IdempotencyLedgerStore
	inboundEventStore      *InboundEventStore
	submissionJobStore     *SubmissionJobStore
	statusEventStore       *StatusEventStore
	auditEntryStore        *AuditEntryStore
	claimDirectoryStore    *ClaimDirectoryStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.idempotencyLedgerStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) IdempotencyLedger() core.IdempotencyLedger {
	if f == nil {
		return nil
	}
	return f.idempotencyLedgerStore
}

func (f *RepositoryFactory) InboundEventStore() core.InboundEventStore {
	if f == nil {
		return nil
	}
	return f.inboundEventStore
}

func (f *RepositoryFactory) SubmissionJobStore() *SubmissionJobStore {
	if f == nil {
		return nil
	}
	return f.submissionJobStore
}

func (f *RepositoryFactory) StatusEventStore() *StatusEventStore {
	if f == nil {
		return nil
	}
	return f.statusEventStore
}

func (f *RepositoryFactory) AuditStore() core.AuditStore {
	if f == nil {
		return nil
	}
	return f.auditEntryStore
}

func (f *RepositoryFactory) ClaimDirectory() *ClaimDirectoryStore {
	if f == nil {
		return nil
	}
	return f.claimDirectoryStore
}

func (f *RepositoryFactory) initStores() error {
	idempotencyLedgerStore, err := NewIdempotencyLedgerStore(f.db)
	if err != nil {
		return err
	}
	f.idempotencyLedgerStore = idempotencyLedgerStore
	inboundEventStore, err := NewInboundEventStore(f.db)
	if err != nil {
		return err
	}
	f.inboundEventStore = inboundEventStore
	submissionJobStore, err := NewSubmissionJobStore(f.db)
	if err != nil {
		return err
	}
	f.submissionJobStore = submissionJobStore
	statusEventStore, err := NewStatusEventStore(f.db)
	if err != nil {
		return err
	}
	f.statusEventStore = statusEventStore
	auditEntryStore, err := NewAuditEntryStore(f.db)
	if err != nil {
		return err
	}
	f.auditEntryStore = auditEntryStore
	claimDirectoryStore, err := NewClaimDirectoryStore(f.db)
	if err != nil {
		return err
	}
	f.claimDirectoryStore = claimDirectoryStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
