package claimspipeline

import (
	"context"
	"fmt"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/claims-pipeline/command"
	"github.com/goliatone/claims-pipeline/core"
	"github.com/goliatone/claims-pipeline/webhooks"
)

// Commands bundles the mutating entry points of the pipeline. Transports and
// schedulers execute through these instead of reaching into the connector or
// webhook packages directly.
type Commands struct {
	EnqueueSubmission *command.EnqueueSubmissionCommand
	DispatchDueJobs   *command.DispatchDueJobsCommand
	ReplayEvent       *command.ReplayEventCommand
	RegisterClaim     *command.RegisterClaimCommand
}

// Facade composes the command handlers over the live services and exposes
// typed executors whose signatures match the HTTP router's dependencies.
type Facade struct {
	commands Commands
}

func NewFacade(
	submissions command.SubmissionService,
	replays command.ReplayService,
	registrar command.ClaimRegistrar,
) (*Facade, error) {
	if submissions == nil {
		return nil, fmt.Errorf("claims: submission service is required")
	}
	if replays == nil {
		return nil, fmt.Errorf("claims: replay service is required")
	}
	if registrar == nil {
		return nil, fmt.Errorf("claims: claim registrar is required")
	}
	return &Facade{
		commands: Commands{
			EnqueueSubmission: command.NewEnqueueSubmissionCommand(submissions),
			DispatchDueJobs:   command.NewDispatchDueJobsCommand(submissions),
			ReplayEvent:       command.NewReplayEventCommand(replays),
			RegisterClaim:     command.NewRegisterClaimCommand(registrar),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

// Enqueue queues one outbound submission for (claimID, rail) through the
// enqueue command and returns the created job.
func (f *Facade) Enqueue(ctx context.Context, claimID string, rail string) (core.SubmissionJob, error) {
	if f == nil {
		return core.SubmissionJob{}, fmt.Errorf("claims: facade is not configured")
	}
	msg := command.EnqueueSubmissionMessage{ClaimID: claimID, Rail: rail}
	if err := msg.Validate(); err != nil {
		return core.SubmissionJob{}, err
	}
	collector := gocmd.NewResult[core.SubmissionJob]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := f.commands.EnqueueSubmission.Execute(ctx, msg); err != nil {
		return core.SubmissionJob{}, err
	}
	job, ok := collector.Load()
	if !ok {
		return core.SubmissionJob{}, fmt.Errorf("claims: enqueue produced no job")
	}
	return job, nil
}

// DispatchDue drains one batch of due submission jobs and returns how many
// were executed.
func (f *Facade) DispatchDue(ctx context.Context) (int, error) {
	if f == nil {
		return 0, fmt.Errorf("claims: facade is not configured")
	}
	collector := gocmd.NewResult[int]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := f.commands.DispatchDueJobs.Execute(ctx, command.DispatchDueJobsMessage{}); err != nil {
		return 0, err
	}
	dispatched, _ := collector.Load()
	return dispatched, nil
}

// Replay re-drives one archived inbound event through dedupe, resolve and
// apply.
func (f *Facade) Replay(ctx context.Context, eventID string) (webhooks.Outcome, error) {
	if f == nil {
		return webhooks.Outcome{}, fmt.Errorf("claims: facade is not configured")
	}
	msg := command.ReplayEventMessage{EventID: eventID}
	if err := msg.Validate(); err != nil {
		return webhooks.Outcome{}, err
	}
	collector := gocmd.NewResult[webhooks.Outcome]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := f.commands.ReplayEvent.Execute(ctx, msg); err != nil {
		return webhooks.Outcome{}, err
	}
	outcome, ok := collector.Load()
	if !ok {
		return webhooks.Outcome{}, fmt.Errorf("claims: replay produced no outcome")
	}
	return outcome, nil
}

// RegisterClaim adds or updates a claim in the directory so inbound events
// can resolve against it.
func (f *Facade) RegisterClaim(ctx context.Context, msg command.RegisterClaimMessage) (core.ClaimRef, error) {
	if f == nil {
		return core.ClaimRef{}, fmt.Errorf("claims: facade is not configured")
	}
	if err := msg.Validate(); err != nil {
		return core.ClaimRef{}, err
	}
	collector := gocmd.NewResult[core.ClaimRef]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := f.commands.RegisterClaim.Execute(ctx, msg); err != nil {
		return core.ClaimRef{}, err
	}
	claim, ok := collector.Load()
	if !ok {
		return core.ClaimRef{}, fmt.Errorf("claims: register produced no claim")
	}
	return claim, nil
}
