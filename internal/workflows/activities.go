package workflows

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/cirecover/internal/controller"
	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

// ChainRunner builds and runs the controller for a request.
type ChainRunner interface {
	RunChain(ctx context.Context, req ChainRequest) (controller.Result, error)
}

// ChainRunnerFunc adapts a function to ChainRunner.
type ChainRunnerFunc func(ctx context.Context, req ChainRequest) (controller.Result, error)

// RunChain calls f.
func (f ChainRunnerFunc) RunChain(ctx context.Context, req ChainRequest) (controller.Result, error) {
	return f(ctx, req)
}

// Activities holds the chain activity's dependencies.
type Activities struct {
	Runner ChainRunner
	// HeartbeatEvery defaults to 30s.
	HeartbeatEvery time.Duration
}

// RunChainActivity runs a chain to completion, heartbeating while it runs.
func (a *Activities) RunChainActivity(ctx context.Context, req ChainRequest) (*ChainOutcome, error) {
	logger := activity.GetLogger(ctx)
	start := time.Now()

	every := a.HeartbeatEvery
	if every <= 0 {
		every = 30 * time.Second
	}
	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, req.ChainID)
			}
		}
	}()

	res, err := a.Runner.RunChain(ctx, req)
	outcome := toOutcome(req, res)

	state := outcome.State
	if err != nil {
		state = "ERROR"
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	chainExecutionCounter.Add(ctx, 1, attrs)
	chainDuration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("activity", "run_chain")))
		outcome.Errors = append(outcome.Errors, FormatErrorForResult("run_chain", err))
		if errors.Is(err, remediation.ErrChainBusy) {
			logger.Warn("Chain is busy, will retry", "chain_id", req.ChainID)
			return nil, temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeChainBusy, err)
		}
		logger.Error("Chain failed", "chain_id", req.ChainID, "error", err)
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeChainFailed, err, outcome)
	}
	return outcome, nil
}

func toOutcome(req ChainRequest, res controller.Result) *ChainOutcome {
	chainID := res.ChainID
	if chainID == "" {
		chainID = req.ChainID
	}
	return &ChainOutcome{
		ChainID:            chainID,
		State:              string(res.State),
		Iterations:         res.Iterations,
		Reason:             string(res.Reason),
		LastClassification: res.LastClassification,
		RunURL:             res.RunURL,
		Escalated:          res.Escalated(),
	}
}
