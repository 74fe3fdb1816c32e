package ci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/fyrsmithlabs/cirecover/internal/logging"
)

// WaitOptions bounds WaitForCompletion.
type WaitOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// DefaultWaitOptions polls every 30 seconds for up to an hour.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{PollInterval: 30 * time.Second, MaxWait: time.Hour}
}

// Monitor tracks workflow runs through a Provider.
type Monitor struct {
	provider Provider
	clock    clock.Clock
	retry    *Retrier
	logger   *logging.Logger
}

// NewMonitor creates a Monitor. A nil logger disables logging.
func NewMonitor(provider Provider, c clock.Clock, retry RetryConfig, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		provider: provider,
		clock:    c,
		retry:    NewRetrier(retry, c, logger.Underlying()),
		logger:   logger,
	}
}

// WaitForCompletion polls runID until it completes and returns it with its
// jobs. A fetch that stays failing after retries leaves the state undetermined
// and is polled again on the next tick. When MaxWait elapses first it returns
// a *TimeoutError.
func (m *Monitor) WaitForCompletion(ctx context.Context, runID int64, opts WaitOptions) (*WorkflowRun, error) {
	defaults := DefaultWaitOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaults.MaxWait
	}

	ctx = logging.WithRunID(ctx, runID)
	start := m.clock.Now()
	deadline := start.Add(opts.MaxWait)
	polls := 0

	for {
		polls++
		run, err := m.poll(ctx, runID)
		switch {
		case err == nil && run.Completed():
			m.logger.Info(ctx, "workflow run completed",
				zap.String("conclusion", run.Conclusion),
				zap.Int("polls", polls),
				zap.Int("jobs", len(run.Jobs)),
			)
			return run, nil
		case err == nil:
			m.logger.Trace(ctx, "workflow run still pending",
				zap.String("status", run.Status),
				zap.Int("polls", polls),
			)
		default:
			var transient *TransientFetchError
			if !errors.As(err, &transient) {
				return nil, err
			}
			m.logger.Warn(ctx, "workflow run state undetermined, polling again",
				zap.Error(err),
			)
		}

		now := m.clock.Now()
		if !now.Before(deadline) {
			return nil, &TimeoutError{RunID: runID, Waited: now.Sub(start)}
		}
		wait := opts.PollInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		if err := clock.Sleep(ctx, m.clock, wait); err != nil {
			return nil, fmt.Errorf("waiting for run %d: %w", runID, err)
		}
	}
}

// poll fetches the run and, once completed, its jobs.
func (m *Monitor) poll(ctx context.Context, runID int64) (*WorkflowRun, error) {
	var run *WorkflowRun
	err := m.retry.Do(ctx, "get run", func(ctx context.Context) error {
		var err error
		run, err = m.provider.GetRun(ctx, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !run.Completed() {
		return run, nil
	}

	err = m.retry.Do(ctx, "get jobs", func(ctx context.Context) error {
		jobs, err := m.provider.GetJobs(ctx, runID)
		if err != nil {
			return err
		}
		run.Jobs = jobs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ResolveRun finds the run a trigger at triggeredAt produced on branch. It
// waits grace, then picks the newest run that started strictly after
// triggeredAt. If none qualifies it waits grace once more before giving up
// with ErrRunNotFound.
func (m *Monitor) ResolveRun(ctx context.Context, branch string, triggeredAt time.Time, grace time.Duration) (*WorkflowRun, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := clock.Sleep(ctx, m.clock, grace); err != nil {
			return nil, fmt.Errorf("resolving run on %s: %w", branch, err)
		}

		run, err := m.newestAfter(ctx, branch, triggeredAt)
		if err != nil {
			var transient *TransientFetchError
			if !errors.As(err, &transient) {
				return nil, err
			}
			lastErr = err
		}
		if run != nil {
			m.logger.Info(logging.WithRunID(ctx, run.ID), "resolved workflow run",
				zap.String("branch", branch),
				zap.Time("started_at", run.StartedAt),
			)
			return run, nil
		}
		if attempt == 1 {
			m.logger.Info(ctx, "no run started after trigger yet, extending wait",
				zap.String("branch", branch),
				zap.Time("triggered_at", triggeredAt),
				zap.Duration("grace", grace),
			)
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w on %s: %w", ErrRunNotFound, branch, lastErr)
	}
	return nil, fmt.Errorf("%w on %s after %s", ErrRunNotFound, branch, triggeredAt.Format(time.RFC3339))
}

func (m *Monitor) newestAfter(ctx context.Context, branch string, after time.Time) (*WorkflowRun, error) {
	var runs []WorkflowRun
	err := m.retry.Do(ctx, "list runs", func(ctx context.Context) error {
		var err error
		runs, err = m.provider.ListRuns(ctx, branch)
		return err
	})
	if err != nil {
		return nil, err
	}

	var best *WorkflowRun
	for i := range runs {
		r := runs[i]
		if !r.StartedAt.After(after) {
			continue
		}
		if best == nil || r.StartedAt.After(best.StartedAt) {
			best = &r
		}
	}
	return best, nil
}
