package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnqueueSubmissionMessage] = (*EnqueueSubmissionCommand)(nil)
	_ gocmd.Commander[DispatchDueJobsMessage]   = (*DispatchDueJobsCommand)(nil)
	_ gocmd.Commander[ReplayEventMessage]       = (*ReplayEventCommand)(nil)
	_ gocmd.Commander[RegisterClaimMessage]     = (*RegisterClaimCommand)(nil)
)
