package command

import (
	"fmt"
	"strings"
)

const (
	TypeEnqueueSubmission = "claims.command.submission.enqueue"
	TypeDispatchDueJobs   = "claims.command.submission.dispatch_due"
	TypeReplayEvent       = "claims.command.event.replay"
	TypeRegisterClaim     = "claims.command.claim.register"
)

// EnqueueSubmissionMessage asks the connector to queue one claim for one
// rail. The queue enforces the single-active-job rule, not the message.
type EnqueueSubmissionMessage struct {
	ClaimID string
	Rail    string
}

func (EnqueueSubmissionMessage) Type() string { return TypeEnqueueSubmission }

func (m EnqueueSubmissionMessage) Validate() error {
	if strings.TrimSpace(m.ClaimID) == "" {
		return fmt.Errorf("command: claim id is required")
	}
	if strings.TrimSpace(m.Rail) == "" {
		return fmt.Errorf("command: rail is required")
	}
	return nil
}

// DispatchDueJobsMessage drains one batch of due submission jobs. It carries
// no payload; the queue decides the batch size.
type DispatchDueJobsMessage struct{}

func (DispatchDueJobsMessage) Type() string { return TypeDispatchDueJobs }

func (DispatchDueJobsMessage) Validate() error { return nil }

// ReplayEventMessage re-drives one archived inbound event through dedupe,
// resolve and apply.
type ReplayEventMessage struct {
	EventID string
}

func (ReplayEventMessage) Type() string { return TypeReplayEvent }

func (m ReplayEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("command: event id is required")
	}
	return nil
}

// RegisterClaimMessage adds or updates a claim in the directory so inbound
// events can resolve against it.
type RegisterClaimMessage struct {
	ClaimID         string
	ReferenceNumber string
	RailTrackingID  string
}

func (RegisterClaimMessage) Type() string { return TypeRegisterClaim }

func (m RegisterClaimMessage) Validate() error {
	if strings.TrimSpace(m.ReferenceNumber) == "" {
		return fmt.Errorf("command: claim reference number is required")
	}
	return nil
}
