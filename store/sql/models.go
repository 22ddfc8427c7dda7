package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type idempotencyRecord struct {
	bun.BaseModel `bun:"table:claim_idempotency_records,alias:cir"`

	ID            string    `bun:"id,pk"`
	EventID       string    `bun:"event_id,notnull"`
	Status        string    `bun:"status,notnull"`
	FirstSeenAt   time.Time `bun:"first_seen_at,notnull"`
	LastAttemptAt time.Time `bun:"last_attempt_at,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type inboundEventRecord struct {
	bun.BaseModel `bun:"table:claim_inbound_events,alias:cie"`

	ID              string         `bun:"id,pk"`
	EventID         string         `bun:"event_id,notnull"`
	EventType       string         `bun:"event_type,notnull"`
	ChainID         string         `bun:"chain_id"`
	ContractAddress string         `bun:"contract_address"`
	BlockNumber     uint64         `bun:"block_number"`
	BlockHash       string         `bun:"block_hash"`
	TxHash          string         `bun:"tx_hash"`
	LogIndex        uint32         `bun:"log_index"`
	RequestIDHash   string         `bun:"request_id_hash,notnull"`
	OccurredAt      time.Time      `bun:"occurred_at,notnull"`
	Payload         map[string]any `bun:"payload,type:jsonb,notnull"`
	Raw             []byte         `bun:"raw"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type submissionJobRecord struct {
	bun.BaseModel `bun:"table:claim_submission_jobs,alias:csj"`

	ID               string     `bun:"id,pk"`
	ClaimID          string     `bun:"claim_id,notnull"`
	Rail             string     `bun:"rail,notnull"`
	Status           string     `bun:"status,notnull"`
	AttemptCount     int        `bun:"attempt_count,notnull"`
	NextAttemptAt    *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt   *time.Time `bun:"lease_expires_at,nullzero"`
	IdempotencyToken string     `bun:"idempotency_token,notnull"`
	LastError        string     `bun:"last_error"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type statusEventRecord struct {
	bun.BaseModel `bun:"table:claim_status_events,alias:cse"`

	ID          string         `bun:"id,pk"`
	ClaimID     string         `bun:"claim_id,notnull"`
	Source      string         `bun:"source,notnull"`
	Kind        string         `bun:"kind,notnull"`
	Timestamp   time.Time      `bun:"timestamp,notnull"`
	BlockNumber uint64         `bun:"block_number"`
	LogIndex    uint32         `bun:"log_index"`
	Detail      map[string]any `bun:"detail,type:jsonb,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:claim_audit_entries,alias:cae"`

	ID          string    `bun:"id,pk"`
	SubjectID   string    `bun:"subject_id,notnull"`
	SubjectKind string    `bun:"subject_kind,notnull"`
	ActorType   string    `bun:"actor_type,notnull"`
	Action      string    `bun:"action,notnull"`
	Outcome     string    `bun:"outcome"`
	Timestamp   time.Time `bun:"timestamp,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type claimRecord struct {
	bun.BaseModel `bun:"table:claims,alias:c"`

	ID                 string     `bun:"id,pk"`
	ReferenceNumber    string     `bun:"reference_number,notnull"`
	RailTrackingID     string     `bun:"rail_tracking_id"`
	AdjudicationState  string     `bun:"adjudication_state"`
	AllowedAmountCents int64      `bun:"allowed_amount_cents"`
	AdjudicatedAt      *time.Time `bun:"adjudicated_at,nullzero"`
	CreatedAt          time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
