// Package trigger starts CI runs for a recovery chain, either by pushing a
// commit or by dispatching the workflow.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/fyrsmithlabs/cirecover/internal/vcs"
	"go.uber.org/zap"
)

// ErrNotPushed is returned when the start commit produced no push.
var ErrNotPushed = errors.New("start commit was not pushed")

// Committer is the part of vcs.Committer a trigger needs.
type Committer interface {
	Branch() string
	BumpMarker(chainID string, iteration int) (string, error)
	CommitAndPush(ctx context.Context, message string) (vcs.PushResult, error)
}

// Dispatcher requests a workflow run. ci.Provider satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ref string, inputs map[string]interface{}) error
}

// RunTrigger starts the runs of one chain.
type RunTrigger interface {
	Name() string
	// Start commits a fresh version marker and pushes it, which makes the
	// first commit of a chain non-empty. It returns the instant runs
	// belonging to this trigger start after.
	Start(ctx context.Context, chainID string) (time.Time, error)
	// AfterPush is called once a fix commit for iteration reached the
	// remote at pushedAt. It returns the instant the next run starts after.
	AfterPush(ctx context.Context, chainID string, iteration int, pushedAt time.Time) (time.Time, error)
}

// StartMessage is the commit message of the marker commit.
func StartMessage(chainID string) string {
	return fmt.Sprintf("chore(cirecover): start recovery chain %s", chainID)
}

func pushMarker(ctx context.Context, c Committer, chainID string) (vcs.PushResult, error) {
	if _, err := c.BumpMarker(chainID, 0); err != nil {
		return vcs.PushResult{}, err
	}
	res, err := c.CommitAndPush(ctx, StartMessage(chainID))
	if err != nil {
		return res, err
	}
	if !res.Pushed {
		return res, ErrNotPushed
	}
	return res, nil
}

// Push relies on the CI system running on every push to the branch.
type Push struct {
	Committer Committer
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Name implements RunTrigger.
func (p *Push) Name() string { return "push" }

// Start implements RunTrigger.
func (p *Push) Start(ctx context.Context, chainID string) (time.Time, error) {
	at := p.Clock.Now()
	res, err := pushMarker(ctx, p.Committer, chainID)
	if err != nil {
		return time.Time{}, fmt.Errorf("push trigger: %w", err)
	}
	logger(p.Logger).Info("pushed start marker",
		zap.String("chain.id", chainID),
		zap.String("commit", res.Commit))
	return at, nil
}

// AfterPush implements RunTrigger. The push itself started the run.
func (p *Push) AfterPush(_ context.Context, _ string, _ int, pushedAt time.Time) (time.Time, error) {
	return pushedAt, nil
}

// Dispatch requests a workflow_dispatch run after every push.
type Dispatch struct {
	Committer  Committer
	Dispatcher Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
	// Inputs are passed to the workflow. They must be declared by it.
	Inputs map[string]interface{}
}

// Name implements RunTrigger.
func (d *Dispatch) Name() string { return "dispatch" }

// Start implements RunTrigger.
func (d *Dispatch) Start(ctx context.Context, chainID string) (time.Time, error) {
	if _, err := pushMarker(ctx, d.Committer, chainID); err != nil {
		return time.Time{}, fmt.Errorf("dispatch trigger: %w", err)
	}
	return d.dispatch(ctx, chainID, 0)
}

// AfterPush implements RunTrigger.
func (d *Dispatch) AfterPush(ctx context.Context, chainID string, iteration int, _ time.Time) (time.Time, error) {
	return d.dispatch(ctx, chainID, iteration)
}

func (d *Dispatch) dispatch(ctx context.Context, chainID string, iteration int) (time.Time, error) {
	at := d.Clock.Now()
	ref := d.Committer.Branch()
	if err := d.Dispatcher.Dispatch(ctx, ref, d.Inputs); err != nil {
		return time.Time{}, fmt.Errorf("dispatching workflow on %s: %w", ref, err)
	}
	logger(d.Logger).Info("dispatched workflow",
		zap.String("chain.id", chainID),
		zap.Int("chain.iteration", iteration),
		zap.String("ref", ref))
	return at, nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
