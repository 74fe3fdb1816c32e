package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/cirecover/internal/ci"
	"github.com/fyrsmithlabs/cirecover/internal/classifier"
	"github.com/fyrsmithlabs/cirecover/internal/fixer"
	"github.com/fyrsmithlabs/cirecover/internal/notify"
	"github.com/fyrsmithlabs/cirecover/internal/vcs"
)

// Error taxonomy. Each type is defined by the package that raises it.
type (
	TransientFetchError = ci.TransientFetchError
	ClassificationGap   = classifier.ClassificationGap
	CommitConflictError = vcs.CommitConflictError
	NotifierFailure     = notify.NotifierFailure
)

var (
	// ErrFixNoOp means the fix strategies produced no diff.
	ErrFixNoOp = fixer.ErrFixNoOp

	// ErrInvalidCredentials aborts a chain before it starts.
	ErrInvalidCredentials = ci.ErrInvalidCredentials
)

// Reason explains why a chain escalated.
type Reason string

// Escalation reasons. Non-failure conclusions escalate as "run-<conclusion>".
const (
	ReasonMaxIterations  Reason = "max-iterations"
	ReasonUnfixable      Reason = "unfixable"
	ReasonRunNotFound    Reason = "run-not-found"
	ReasonTimeout        Reason = "timeout"
	ReasonCancelled      Reason = "cancelled"
	ReasonTriggerFailed  Reason = "trigger-failed"
	ReasonPushFailed     Reason = "push-failed"
	ReasonCommitConflict Reason = "commit-conflict"
	ReasonCIUnavailable  Reason = "ci-unavailable"
	ReasonInternal       Reason = "internal-error"
	// ReasonLockLost means another controller took the chain lease.
	ReasonLockLost Reason = "lock-lost"
)

// RunConclusionReason is the reason for a run that ended neither in
// success nor in failure.
func RunConclusionReason(conclusion string) Reason {
	if conclusion == "" {
		conclusion = "unknown"
	}
	return Reason("run-" + conclusion)
}

// Severity says how a step error ends the chain.
type Severity int

const (
	// SeverityEscalate ends the chain gracefully.
	SeverityEscalate Severity = iota
	// SeverityFatal ends the chain and fails the process.
	SeverityFatal
)

// StepError is a component error mapped at the controller boundary.
type StepError struct {
	State    State
	Reason   Reason
	Severity Severity
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.State, e.Reason, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func escalate(state State, reason Reason, err error) *StepError {
	return &StepError{State: state, Reason: reason, Severity: SeverityEscalate, Err: err}
}

func fatal(state State, err error) *StepError {
	return &StepError{State: state, Reason: ReasonInternal, Severity: SeverityFatal, Err: err}
}

// contextStep maps a context error. A deadline is the configured run
// budget and escalates gracefully; any other cancellation is fatal so the
// process exits non-zero.
func contextStep(ctx context.Context, state State) *StepError {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return escalate(state, ReasonTimeout, err)
	}
	return &StepError{State: state, Reason: ReasonCancelled, Severity: SeverityFatal, Err: err}
}
