package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/ci"
	"github.com/fyrsmithlabs/cirecover/internal/classifier"
	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/fyrsmithlabs/cirecover/internal/fixer"
	"github.com/fyrsmithlabs/cirecover/internal/hooks"
	"github.com/fyrsmithlabs/cirecover/internal/logging"
	"github.com/fyrsmithlabs/cirecover/internal/notify"
	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/trigger"
	"github.com/fyrsmithlabs/cirecover/internal/vcs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cirecover/internal/controller"

// DefaultMutationTimeout bounds a mutating state once it runs detached.
const DefaultMutationTimeout = 15 * time.Minute

// RunWatcher finds and follows CI runs. *ci.Monitor satisfies it.
type RunWatcher interface {
	ResolveRun(ctx context.Context, branch string, triggeredAt time.Time, grace time.Duration) (*ci.WorkflowRun, error)
	WaitForCompletion(ctx context.Context, runID int64, opts ci.WaitOptions) (*ci.WorkflowRun, error)
}

// FailureSource classifies the failed jobs of a run. *ci.Retriever
// satisfies it.
type FailureSource interface {
	Failures(ctx context.Context, run *ci.WorkflowRun) ([]classifier.FailureRecord, error)
}

// Knowledge writes guides and pattern outcomes. *remediation.Service
// satisfies it.
type Knowledge interface {
	GenerateGuide(ctx context.Context, chainID string, iteration int, failures []classifier.FailureRecord) (*remediation.Guide, error)
	RecordApplication(ctx context.Context, chainID string, guide *remediation.Guide, strategiesApplied []string) ([]string, error)
	RecordOutcome(ctx context.Context, chainID string, patternIDs []string, succeeded bool) (int, error)
}

// Fixer applies fix strategies. *fixer.Applicator satisfies it.
type Fixer interface {
	ApplyFixes(ctx context.Context, guide *remediation.Guide) (fixer.Result, error)
}

// Committer commits and pushes fixes. *vcs.Committer satisfies it.
type Committer interface {
	CommitAndPush(ctx context.Context, message string) (vcs.PushResult, error)
}

// Notifier delivers the final report. *notify.Dispatcher satisfies it.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) []*notify.NotifierFailure
}

// Locker guarantees a single controller per chain. Acquire also renews a
// lease the caller already holds.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Verifier checks credentials before the chain starts.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Config bounds one chain.
type Config struct {
	ChainID       string
	Repository    string
	Branch        string
	MaxIterations int
	// Grace is waited before looking for the run a trigger produced.
	Grace time.Duration
	Wait  ci.WaitOptions
	// MutationTimeout bounds INIT, FIXING and COMMITTING.
	MutationTimeout time.Duration
}

// Deps are the collaborators of a Controller. Lock, Hooks and Preflight
// are optional.
type Deps struct {
	Trigger   trigger.RunTrigger
	Runs      RunWatcher
	Failures  FailureSource
	Knowledge Knowledge
	Fixer     Fixer
	Committer Committer
	Notifier  Notifier
	Lock      Locker
	Hooks     *hooks.HookManager
	Preflight []Verifier
	Clock     clock.Clock
	Logger    *logging.Logger
}

// Result is the outcome of a chain.
type Result struct {
	ChainID string
	State   State
	// Iterations counts fix commits that were pushed.
	Iterations         int
	Reason             Reason
	LastClassification string
	RunURL             string
	History            []State
	GuideIterations    []int
}

// Escalated reports whether the chain ended in ESCALATED.
func (r Result) Escalated() bool { return r.State == StateEscalated }

// Report converts r for notification.
func (r Result) Report(maxIterations int) notify.Report {
	return notify.Report{
		ChainID:            r.ChainID,
		Iterations:         r.Iterations,
		MaxIterations:      maxIterations,
		LastClassification: r.LastClassification,
		Escalated:          r.Escalated(),
		Reason:             string(r.Reason),
		RunURL:             r.RunURL,
	}
}

// Controller runs a chain.
type Controller struct {
	cfg  Config
	deps Deps

	logger      *logging.Logger
	tracer      trace.Tracer
	iterations  metric.Int64Counter
	escalations metric.Int64Counter
}

// New creates a Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case cfg.ChainID == "":
		return nil, errors.New("chain ID is required")
	case cfg.MaxIterations < 0:
		return nil, fmt.Errorf("max iterations must not be negative, got %d", cfg.MaxIterations)
	case deps.Trigger == nil, deps.Runs == nil, deps.Failures == nil, deps.Knowledge == nil,
		deps.Fixer == nil, deps.Committer == nil, deps.Notifier == nil:
		return nil, errors.New("controller dependencies are incomplete")
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = DefaultMutationTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		tracer: otel.Tracer(instrumentationName),
	}
	bg := logging.WithChainID(context.Background(), cfg.ChainID)
	meter := otel.Meter(instrumentationName)
	var err error
	c.iterations, err = meter.Int64Counter(
		"cirecover.controller.iterations_total",
		metric.WithDescription("Fix iterations pushed"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		c.logger.Warn(bg, "failed to create iterations counter", zap.Error(err))
	}
	c.escalations, err = meter.Int64Counter(
		"cirecover.controller.escalations_total",
		metric.WithDescription("Chains that ended in escalation"),
		metric.WithUnit("{chain}"),
	)
	if err != nil {
		c.logger.Warn(bg, "failed to create escalations counter", zap.Error(err))
	}
	return c, nil
}

// chain is the mutable state of one Run.
type chain struct {
	state       State
	iteration   int
	triggeredAt time.Time
	pushedAt    time.Time
	run         *ci.WorkflowRun
	guide       *remediation.Guide
	fix         fixer.Result

	lastApplied []string
	allApplied  []string

	reason  Reason
	failure *StepError
	result  Result
}

// tag adds the iteration and, once resolved, the run to ctx's log fields.
func (ch *chain) tag(ctx context.Context) context.Context {
	ctx = logging.WithIteration(ctx, ch.iteration)
	if ch.run != nil {
		ctx = logging.WithRunID(ctx, ch.run.ID)
	}
	return ctx
}

// Run drives the chain to SUCCEEDED or ESCALATED. The returned error is
// non-nil when the process should fail: preflight or lock failures, an
// internal error or cancellation. Escalations are reported in Result.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "controller.Run",
		trace.WithAttributes(
			attribute.String("chain.id", c.cfg.ChainID),
			attribute.Int("chain.max_iterations", c.cfg.MaxIterations),
		))
	defer span.End()
	ctx = logging.WithChainID(ctx, c.cfg.ChainID)

	ch := &chain{state: StateInit}
	ch.result = Result{ChainID: c.cfg.ChainID, State: StateInit, History: []State{StateInit}}

	for _, v := range c.deps.Preflight {
		if err := v.Verify(ctx); err != nil {
			span.SetStatus(codes.Error, "preflight failed")
			return ch.result, fmt.Errorf("startup verification failed: %w", err)
		}
	}

	if c.deps.Lock != nil {
		if err := c.deps.Lock.Acquire(ctx); err != nil {
			span.SetStatus(codes.Error, "lock failed")
			return ch.result, fmt.Errorf("acquiring chain lock: %w", err)
		}
		defer func() {
			if err := c.deps.Lock.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn(ctx, "failed to release chain lock", zap.Error(err))
			}
		}()
	}
	c.hook(ctx, hooks.Event{Type: hooks.HookChainStart, ChainID: c.cfg.ChainID, To: string(StateInit)})
	c.logger.Info(ctx, "recovery chain started",
		zap.String("branch", c.cfg.Branch),
		zap.Int("max_iterations", c.cfg.MaxIterations))

	for !ch.state.Terminal() {
		var next State
		sctx := ch.tag(ctx)
		serr := c.renewLock(sctx, ch.state)
		if serr == nil {
			next, serr = c.step(sctx, ch)
		}
		if serr != nil {
			next = StateEscalated
			ch.reason = serr.Reason
			ch.failure = serr
			c.logger.Warn(sctx, "step failed",
				zap.String("state", string(serr.State)),
				zap.String("reason", string(serr.Reason)),
				zap.Error(serr.Err))
		}
		if !CanTransition(ch.state, next) {
			terr := &TransitionError{From: ch.state, To: next}
			ch.reason = ReasonInternal
			ch.failure = fatal(ch.state, terr)
			next = StateEscalated
		}
		c.transition(ch.tag(ctx), ch, next)
	}

	c.finish(ch.tag(ctx), ch)

	if ch.failure != nil && ch.failure.Severity == SeverityFatal {
		span.RecordError(ch.failure)
		span.SetStatus(codes.Error, string(ch.reason))
		return ch.result, ch.failure
	}
	return ch.result, nil
}

// renewLock extends the chain lease before every step after INIT, so the
// lease TTL only has to outlast the longest single step.
func (c *Controller) renewLock(ctx context.Context, state State) *StepError {
	if c.deps.Lock == nil || state == StateInit {
		return nil
	}
	err := c.deps.Lock.Acquire(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, remediation.ErrChainBusy):
		return &StepError{State: state, Reason: ReasonLockLost, Severity: SeverityFatal,
			Err: fmt.Errorf("chain lease lost: %v", err)}
	case ctx.Err() != nil:
		// The step observes the cancellation.
		return nil
	default:
		c.logger.Warn(ctx, "failed to renew chain lock", zap.String("state", string(state)), zap.Error(err))
		return nil
	}
}

func (c *Controller) transition(ctx context.Context, ch *chain, next State) {
	from := ch.state
	ch.state = next
	ch.result.State = next
	ch.result.History = append(ch.result.History, next)
	c.logger.Info(ctx, "state transition",
		zap.String("from", string(from)),
		zap.String("to", string(next)))
	c.hook(ctx, hooks.Event{
		Type:      hooks.HookTransition,
		ChainID:   c.cfg.ChainID,
		From:      string(from),
		To:        string(next),
		Iteration: ch.iteration,
		Reason:    string(ch.reason),
	})
}

func (c *Controller) step(ctx context.Context, ch *chain) (State, *StepError) {
	switch ch.state {
	case StateInit:
		return c.start(ctx, ch)
	case StateTriggered:
		return c.resolve(ctx, ch)
	case StateRetriggered:
		return c.retrigger(ctx, ch)
	case StatePolling:
		return c.poll(ctx, ch)
	case StateClassifying:
		if serr := c.classify(ctx, ch); serr != nil {
			return "", serr
		}
		return StateFixing, nil
	case StateFixing:
		return c.fix(ctx, ch)
	case StateCommitting:
		return c.commit(ctx, ch)
	default:
		return "", fatal(ch.state, fmt.Errorf("no handler for state %s", ch.state))
	}
}

// mutate runs fn on a context that ignores cancellation of ctx but is
// bounded by MutationTimeout. A cancellation observed meanwhile is
// reported once fn has returned.
func (c *Controller) mutate(ctx context.Context, ch *chain, fn func(context.Context) *StepError) *StepError {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.MutationTimeout)
	defer cancel()
	if serr := fn(mctx); serr != nil {
		return serr
	}
	if ctx.Err() != nil {
		return contextStep(ctx, ch.state)
	}
	return nil
}

func (c *Controller) start(ctx context.Context, ch *chain) (State, *StepError) {
	if ctx.Err() != nil {
		return "", contextStep(ctx, ch.state)
	}
	serr := c.mutate(ctx, ch, func(mctx context.Context) *StepError {
		at, err := c.deps.Trigger.Start(mctx, c.cfg.ChainID)
		if err != nil {
			return pushStep(ch.state, ReasonTriggerFailed, err)
		}
		ch.triggeredAt = at
		return nil
	})
	if serr != nil {
		return "", serr
	}
	return StateTriggered, nil
}

func (c *Controller) retrigger(ctx context.Context, ch *chain) (State, *StepError) {
	at, err := c.deps.Trigger.AfterPush(ctx, c.cfg.ChainID, ch.iteration, ch.pushedAt)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextStep(ctx, ch.state)
		}
		return "", escalate(ch.state, ReasonTriggerFailed, err)
	}
	ch.triggeredAt = at
	return c.resolve(ctx, ch)
}

func (c *Controller) resolve(ctx context.Context, ch *chain) (State, *StepError) {
	run, err := c.deps.Runs.ResolveRun(ctx, c.cfg.Branch, ch.triggeredAt, c.cfg.Grace)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextStep(ctx, ch.state)
		}
		if errors.Is(err, ci.ErrInvalidCredentials) {
			return "", fatal(ch.state, err)
		}
		return "", escalate(ch.state, ReasonRunNotFound, err)
	}
	ch.run = run
	ch.result.RunURL = run.URL
	return StatePolling, nil
}

func (c *Controller) poll(ctx context.Context, ch *chain) (State, *StepError) {
	run, err := c.deps.Runs.WaitForCompletion(ctx, ch.run.ID, c.cfg.Wait)
	if err != nil {
		var timeout *ci.TimeoutError
		switch {
		case ctx.Err() != nil:
			return "", contextStep(ctx, ch.state)
		case errors.As(err, &timeout):
			return "", escalate(ch.state, ReasonTimeout, err)
		case errors.Is(err, ci.ErrInvalidCredentials):
			return "", fatal(ch.state, err)
		default:
			return "", escalate(ch.state, ReasonCIUnavailable, err)
		}
	}
	ch.run = run
	if run.URL != "" {
		ch.result.RunURL = run.URL
	}

	switch run.Conclusion {
	case ci.ConclusionSuccess:
		return StateSucceeded, nil
	case ci.ConclusionFailure:
	default:
		return "", escalate(ch.state, RunConclusionReason(run.Conclusion),
			fmt.Errorf("run %d concluded %q", run.ID, run.Conclusion))
	}

	if ch.iteration < c.cfg.MaxIterations {
		return StateClassifying, nil
	}
	// Out of iterations: the guide for this run still completes the history.
	if serr := c.classify(ctx, ch); serr != nil {
		return "", serr
	}
	return "", escalate(ch.state, ReasonMaxIterations,
		fmt.Errorf("run %d failed after %d fix iteration(s)", run.ID, ch.iteration))
}

func (c *Controller) classify(ctx context.Context, ch *chain) *StepError {
	failures, err := c.deps.Failures.Failures(ctx, ch.run)
	if err != nil {
		if ctx.Err() != nil {
			return contextStep(ctx, ch.state)
		}
		c.logger.Warn(ctx, "some job logs could not be classified", zap.Error(err))
	}

	// The guide is written even if ctx was cancelled meanwhile.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.MutationTimeout)
	defer cancel()
	guide, err := c.deps.Knowledge.GenerateGuide(wctx, c.cfg.ChainID, ch.iteration, failures)
	if err != nil {
		return fatal(ch.state, fmt.Errorf("writing guide: %w", err))
	}
	ch.guide = guide
	ch.result.LastClassification = guide.Summary()
	ch.result.GuideIterations = append(ch.result.GuideIterations, guide.Iteration)
	c.logger.Info(ctx, "recovery guide written",
		zap.Int("failures", len(guide.Failures)),
		zap.Strings("patterns", guide.PatternIDs()))
	return nil
}

func (c *Controller) fix(ctx context.Context, ch *chain) (State, *StepError) {
	serr := c.mutate(ctx, ch, func(mctx context.Context) *StepError {
		res, err := c.deps.Fixer.ApplyFixes(mctx, ch.guide)
		ch.fix = res
		if err != nil {
			if errors.Is(err, fixer.ErrFixNoOp) {
				return escalate(ch.state, ReasonUnfixable, err)
			}
			return fatal(ch.state, fmt.Errorf("applying fixes: %w", err))
		}
		ids, err := c.deps.Knowledge.RecordApplication(mctx, c.cfg.ChainID, ch.guide, res.StrategiesApplied)
		if err != nil {
			return fatal(ch.state, fmt.Errorf("recording applied patterns: %w", err))
		}
		ch.lastApplied = ids
		ch.allApplied = appendUnique(ch.allApplied, ids...)
		return nil
	})
	if serr != nil {
		return "", serr
	}
	return StateCommitting, nil
}

func (c *Controller) commit(ctx context.Context, ch *chain) (State, *StepError) {
	serr := c.mutate(ctx, ch, func(mctx context.Context) *StepError {
		pushedAt := c.deps.Clock.Now()
		res, err := c.deps.Committer.CommitAndPush(mctx, c.commitMessage(ch))
		if err != nil {
			return pushStep(ch.state, ReasonPushFailed, err)
		}
		if !res.Pushed {
			return escalate(ch.state, ReasonUnfixable, errors.New("fix produced no commit"))
		}
		ch.pushedAt = pushedAt
		ch.iteration++
		ch.result.Iterations = ch.iteration
		if c.iterations != nil {
			c.iterations.Add(mctx, 1)
		}
		c.logger.Info(mctx, "fix pushed",
			zap.String("commit", res.Commit),
			zap.Strings("strategies", ch.fix.StrategiesApplied),
			zap.Int("iterations", ch.iteration))
		return nil
	})
	if serr != nil {
		return "", serr
	}
	c.hook(ctx, hooks.Event{
		Type:      hooks.HookIteration,
		ChainID:   c.cfg.ChainID,
		From:      string(StateCommitting),
		To:        string(StateRetriggered),
		Iteration: ch.iteration,
	})
	return StateRetriggered, nil
}

func pushStep(state State, reason Reason, err error) *StepError {
	var conflict *vcs.CommitConflictError
	if errors.As(err, &conflict) {
		reason = ReasonCommitConflict
	}
	if errors.Is(err, vcs.ErrInvalidCredentials) {
		return fatal(state, err)
	}
	return escalate(state, reason, err)
}

func (c *Controller) commitMessage(ch *chain) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fix(cirecover): iteration %d of chain %s\n\n", ch.iteration+1, c.cfg.ChainID)
	fmt.Fprintf(&b, "Strategies: %s\n", strings.Join(ch.fix.StrategiesApplied, ", "))
	fmt.Fprintf(&b, "Failures: %s\n", ch.guide.Summary())
	if ids := ch.guide.PatternIDs(); len(ids) > 0 {
		fmt.Fprintf(&b, "Patterns: %s\n", strings.Join(ids, ", "))
	}
	return b.String()
}

// finish records pattern outcomes, notifies once and fires chain_end.
func (c *Controller) finish(ctx context.Context, ch *chain) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.MutationTimeout)
	defer cancel()

	ch.result.Reason = ch.reason
	kind := notify.EventSuccess
	var ids []string
	succeeded := ch.state == StateSucceeded
	if succeeded {
		ids = ch.lastApplied
	} else {
		kind = notify.EventEscalation
		ids = ch.allApplied
		if c.escalations != nil {
			c.escalations.Add(dctx, 1, metric.WithAttributes(attribute.String("reason", string(ch.reason))))
		}
	}
	if len(ids) > 0 {
		n, err := c.deps.Knowledge.RecordOutcome(dctx, c.cfg.ChainID, ids, succeeded)
		if err != nil {
			c.logger.Error(dctx, "failed to record pattern outcomes", zap.Error(err))
		} else {
			c.logger.Info(dctx, "recorded pattern outcomes", zap.Int("patterns", n), zap.Bool("success", succeeded))
		}
	}

	c.deps.Notifier.Dispatch(dctx, notify.Event{
		Kind:       kind,
		Repository: c.cfg.Repository,
		Branch:     c.cfg.Branch,
		Report:     ch.result.Report(c.cfg.MaxIterations),
	})
	c.hook(dctx, hooks.Event{
		Type:      hooks.HookChainEnd,
		ChainID:   c.cfg.ChainID,
		To:        string(ch.state),
		Iteration: ch.iteration,
		Reason:    string(ch.reason),
	})

	fields := []zap.Field{
		zap.String("state", string(ch.state)),
		zap.Int("iterations", ch.iteration),
	}
	if ch.reason != "" {
		fields = append(fields, zap.String("reason", string(ch.reason)))
	}
	c.logger.Info(ctx, "recovery chain finished", fields...)
}

func (c *Controller) hook(ctx context.Context, ev hooks.Event) {
	if c.deps.Hooks == nil {
		return
	}
	if err := c.deps.Hooks.Execute(ctx, ev); err != nil {
		c.logger.Warn(ctx, "lifecycle hook failed", zap.String("hook", string(ev.Type)), zap.Error(err))
	}
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, d := range dst {
			if d == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
