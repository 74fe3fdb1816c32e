package ci

import "time"

// Run status values reported by the CI provider.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run and job conclusion values. Conclusion is empty until Status is completed.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
	ConclusionSkipped   = "skipped"
)

// WorkflowRun is a single execution of the CI pipeline.
type WorkflowRun struct {
	ID         int64       `json:"id"`
	Branch     string      `json:"branch"`
	Status     string      `json:"status"`
	Conclusion string      `json:"conclusion,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	URL        string      `json:"url,omitempty"`
	Jobs       []JobResult `json:"jobs,omitempty"`
}

// Completed reports whether the run reached a terminal status.
func (r *WorkflowRun) Completed() bool {
	return r != nil && r.Status == StatusCompleted
}

// Succeeded reports whether the run completed successfully.
func (r *WorkflowRun) Succeeded() bool {
	return r.Completed() && r.Conclusion == ConclusionSuccess
}

// FailedJobs returns the jobs whose conclusion is failure.
func (r *WorkflowRun) FailedJobs() []JobResult {
	if r == nil {
		return nil
	}
	var out []JobResult
	for _, j := range r.Jobs {
		if j.Conclusion == ConclusionFailure {
			out = append(out, j)
		}
	}
	return out
}

// JobResult is one job within a WorkflowRun.
type JobResult struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	// LogsRef identifies where the job log lives. For GitHub it is the job ID
	// rendered as a string; the signed download URL is resolved lazily.
	LogsRef string `json:"logs_ref,omitempty"`
}
