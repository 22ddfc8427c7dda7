// Package connector owns outbound claim submissions: the job queue that
// schedules, executes and retries submissions against external clearinghouse
// rails, and the status tracker that aggregates a claim's submission history.
package connector
