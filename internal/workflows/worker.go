package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker registers the chain workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(RecoveryChainWorkflow)
	w.RegisterActivity(acts)
	return w
}

// StartChain starts a chain workflow whose ID is the chain ID and waits
// for its outcome. Starting a chain whose workflow is still running fails.
func StartChain(ctx context.Context, c client.Client, taskQueue string, req ChainRequest, opts ChainOptions) (*ChainOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       req.ChainID,
		TaskQueue:                taskQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}, RecoveryChainWorkflow, req, opts)
	if err != nil {
		return nil, fmt.Errorf("starting chain workflow %s: %w", req.ChainID, err)
	}

	var outcome ChainOutcome
	if err := run.Get(ctx, &outcome); err != nil {
		return nil, fmt.Errorf("chain workflow %s: %w", req.ChainID, err)
	}
	return &outcome, nil
}
