package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const auditAlertMetric = "claims.audit.write_failed.total"

// AuditRecorder appends compliance trail entries. A write failure after the
// underlying mutation has already been applied is alerted, never propagated:
// the mutation's correctness does not depend on audit durability.
type AuditRecorder struct {
	store   AuditStore
	logger  Logger
	metrics MetricsRecorder
	Now     func() time.Time
}

func NewAuditRecorder(store AuditStore, logger Logger, metrics MetricsRecorder) (*AuditRecorder, error) {
	if store == nil {
		return nil, fmt.Errorf("core: audit store is required")
	}
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &AuditRecorder{
		store:   store,
		logger:  glog.Ensure(logger),
		metrics: metrics,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Record appends one immutable entry and returns it. Errors are reported to
// the caller so it can decide whether the write is load-bearing.
func (r *AuditRecorder) Record(
	ctx context.Context,
	subjectKind AuditSubjectKind,
	subjectID string,
	action string,
	outcome string,
) (AuditEntry, error) {
	if r == nil || r.store == nil {
		return AuditEntry{}, fmt.Errorf("core: audit recorder is not configured")
	}
	entry := AuditEntry{
		ID:          uuid.NewString(),
		SubjectID:   strings.TrimSpace(subjectID),
		SubjectKind: subjectKind,
		ActorType:   AuditActorSystem,
		Action:      strings.TrimSpace(action),
		Outcome:     strings.TrimSpace(outcome),
		Timestamp:   r.now(),
	}
	if err := entry.Validate(); err != nil {
		return AuditEntry{}, err
	}
	appended, err := r.store.Append(ctx, entry)
	if err != nil {
		return AuditEntry{}, err
	}
	return appended, nil
}

// RecordApplied is the isolated variant used after a mutation has already
// landed: failure raises the audit-write-failed alert and returns nothing.
func (r *AuditRecorder) RecordApplied(
	ctx context.Context,
	subjectKind AuditSubjectKind,
	subjectID string,
	action string,
	outcome string,
) {
	if r == nil {
		return
	}
	if _, err := r.Record(ctx, subjectKind, subjectID, action, outcome); err != nil {
		r.alertWriteFailure(ctx, subjectKind, subjectID, action, err)
	}
}

func (r *AuditRecorder) alertWriteFailure(
	ctx context.Context,
	subjectKind AuditSubjectKind,
	subjectID string,
	action string,
	cause error,
) {
	logger := r.logger
	if ctx != nil && logger != nil {
		logger = logger.WithContext(ctx)
	}
	if logger != nil {
		logger.Error("audit-write-failed",
			"subject_kind", string(subjectKind),
			"subject_id", subjectID,
			"action", action,
			"error", cause.Error(),
		)
	}
	if r.metrics != nil {
		r.metrics.IncCounter(ctx, auditAlertMetric, 1, map[string]string{
			"subject_kind": string(subjectKind),
			"action":       action,
		})
	}
}

func (r *AuditRecorder) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
