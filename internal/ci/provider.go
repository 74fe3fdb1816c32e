// Package ci observes remote CI runs: it resolves the run a trigger produced,
// waits for it to complete, and streams failed job logs into the classifier.
package ci

import (
	"context"
	"io"
)

// Provider is the CI system boundary. Implementations must be safe for
// concurrent use and must not buffer job logs in memory.
type Provider interface {
	// ListRuns returns recent runs of the configured workflow on branch, newest first.
	ListRuns(ctx context.Context, branch string) ([]WorkflowRun, error)
	// GetRun returns the current state of a run without its jobs.
	GetRun(ctx context.Context, runID int64) (*WorkflowRun, error)
	// GetJobs returns the jobs of the latest attempt of a run.
	GetJobs(ctx context.Context, runID int64) ([]JobResult, error)
	// GetJobLogs opens the plain-text log of a job. The caller closes the stream.
	GetJobLogs(ctx context.Context, jobID int64) (io.ReadCloser, error)
	// Dispatch requests a new run of the configured workflow on ref.
	Dispatch(ctx context.Context, ref string, inputs map[string]interface{}) error
	// Verify checks that the configured credentials can read the repository.
	Verify(ctx context.Context) error
}
