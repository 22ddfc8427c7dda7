package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/webhooks"
)

// SubmissionService is the connector surface the commands mutate through.
type SubmissionService interface {
	Enqueue(ctx context.Context, claimID string, rail string) (core.SubmissionJob, error)
	DispatchDue(ctx context.Context) (int, error)
}

type ReplayService interface {
	Replay(ctx context.Context, eventID string) (webhooks.Outcome, error)
}

type ClaimRegistrar interface {
	Upsert(ctx context.Context, claim core.ClaimRef) (core.ClaimRef, error)
}

type EnqueueSubmissionCommand struct {
	service SubmissionService
}

func NewEnqueueSubmissionCommand(service SubmissionService) *EnqueueSubmissionCommand {
	return &EnqueueSubmissionCommand{service: service}
}

func (c *EnqueueSubmissionCommand) Execute(ctx context.Context, msg EnqueueSubmissionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: submission service is required")
	}
	job, err := c.service.Enqueue(ctx, msg.ClaimID, msg.Rail)
	if err != nil {
		return err
	}
	storeResult(ctx, job)
	return nil
}

type DispatchDueJobsCommand struct {
	service SubmissionService
}

func NewDispatchDueJobsCommand(service SubmissionService) *DispatchDueJobsCommand {
	return &DispatchDueJobsCommand{service: service}
}

func (c *DispatchDueJobsCommand) Execute(ctx context.Context, _ DispatchDueJobsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: submission service is required")
	}
	dispatched, err := c.service.DispatchDue(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, dispatched)
	return nil
}

type ReplayEventCommand struct {
	service ReplayService
}

func NewReplayEventCommand(service ReplayService) *ReplayEventCommand {
	return &ReplayEventCommand{service: service}
}

func (c *ReplayEventCommand) Execute(ctx context.Context, msg ReplayEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	outcome, err := c.service.Replay(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, outcome)
	return nil
}

type RegisterClaimCommand struct {
	registrar ClaimRegistrar
}

func NewRegisterClaimCommand(registrar ClaimRegistrar) *RegisterClaimCommand {
	return &RegisterClaimCommand{registrar: registrar}
}

func (c *RegisterClaimCommand) Execute(ctx context.Context, msg RegisterClaimMessage) error {
	if c == nil || c.registrar == nil {
		return commandDependencyError("command: claim registrar is required")
	}
	claim, err := c.registrar.Upsert(ctx, core.ClaimRef{
		ID:              msg.ClaimID,
		ReferenceNumber: msg.ReferenceNumber,
		RailTrackingID:  msg.RailTrackingID,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, claim)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
