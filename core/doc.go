// Package core holds the domain model and contracts for the claims
// adjudication pipeline: inbound events, the idempotency ledger, claim
// resolution, submission jobs, status history and the audit trail. The
// webhook state machine and the connector job queue build on these contracts
// without owning any storage themselves.
package core
