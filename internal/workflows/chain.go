// Package workflows hosts recovery chains on Temporal. The workflow ID is
// the chain ID, so Temporal refuses a second concurrent controller for the
// same chain across hosts.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the default task queue of the chain worker.
const TaskQueue = "cirecover-chains"

// ChainRequest starts one recovery chain.
type ChainRequest struct {
	ChainID       string // Also the workflow ID
	Repository    string // owner/name
	Branch        string // Branch whose CI is recovered
	MaxIterations int    // Fix iterations allowed
}

// Validate checks that all required fields are set.
func (r ChainRequest) Validate() error {
	if r.ChainID == "" {
		return errors.New("ChainID is required")
	}
	if r.Repository == "" {
		return errors.New("Repository is required")
	}
	if r.Branch == "" {
		return errors.New("Branch is required")
	}
	if r.MaxIterations < 0 {
		return fmt.Errorf("MaxIterations must not be negative, got %d", r.MaxIterations)
	}
	return nil
}

// ChainOutcome is the result of a recovery chain.
type ChainOutcome struct {
	ChainID            string
	State              string
	Iterations         int
	Reason             string
	LastClassification string
	RunURL             string
	Escalated          bool
	Errors             []string
}

// ChainOptions bounds the chain activity.
type ChainOptions struct {
	// StartToClose bounds the whole chain.
	StartToClose time.Duration
	// Heartbeat is the heartbeat timeout; the activity heartbeats at a
	// third of it.
	Heartbeat time.Duration
}

// DefaultChainOptions allows a chain six hours.
func DefaultChainOptions() ChainOptions {
	return ChainOptions{StartToClose: 6 * time.Hour, Heartbeat: 2 * time.Minute}
}

// RecoveryChainWorkflow runs one chain as a single long activity.
//
// A busy chain lock is retried with backoff. Any other activity failure
// fails the workflow without retry: the chain may already have pushed
// commits, and a fresh chain must be started explicitly.
func RecoveryChainWorkflow(ctx workflow.Context, req ChainRequest, opts ChainOptions) (*ChainOutcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting recovery chain",
		"chain_id", req.ChainID,
		"repository", req.Repository,
		"branch", req.Branch)

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			NewWorkflowError("validate_request", ErrorSeverityCritical, err, req.ChainID).Error(),
			ErrTypeInvalidRequest, err)
	}
	if opts.StartToClose <= 0 || opts.Heartbeat <= 0 {
		opts = DefaultChainOptions()
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: opts.StartToClose,
		HeartbeatTimeout:    opts.Heartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        30 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeChainFailed, ErrTypeInvalidRequest},
		},
	})

	var a *Activities
	var outcome ChainOutcome
	if err := workflow.ExecuteActivity(ctx, a.RunChainActivity, req).Get(ctx, &outcome); err != nil {
		logger.Error("Recovery chain failed", "chain_id", req.ChainID, "error", err)
		return nil, NewWorkflowError("run_chain", ErrorSeverityCritical, err, req.ChainID)
	}

	logger.Info("Recovery chain finished",
		"chain_id", req.ChainID,
		"state", outcome.State,
		"iterations", outcome.Iterations,
		"reason", outcome.Reason)
	return &outcome, nil
}
