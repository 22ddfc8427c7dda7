package sqlstore

import "github.com/goliatone/claims-pipeline/core"

var (
	_ core.IdempotencyLedger  = (*IdempotencyLedgerStore)(nil)
	_ core.InboundEventStore  = (*InboundEventStore)(nil)
	_ core.SubmissionJobStore = (*SubmissionJobStore)(nil)
	_ core.StatusEventStore   = (*StatusEventStore)(nil)
	_ core.StatusEventStore   = (*CachedStatusEventStore)(nil)
	_ core.AuditStore         = (*AuditEntryStore)(nil)
	_ core.ClaimDirectory     = (*ClaimDirectoryStore)(nil)
	_ core.ClaimUpdater       = (*ClaimDirectoryStore)(nil)
)
