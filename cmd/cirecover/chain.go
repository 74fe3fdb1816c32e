package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/ci"
	"github.com/fyrsmithlabs/cirecover/internal/config"
	"github.com/fyrsmithlabs/cirecover/internal/controller"
	"github.com/fyrsmithlabs/cirecover/internal/fixer"
	"github.com/fyrsmithlabs/cirecover/internal/hooks"
	"github.com/fyrsmithlabs/cirecover/internal/logging"
	"github.com/fyrsmithlabs/cirecover/internal/notify"
	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/trigger"
	"github.com/fyrsmithlabs/cirecover/internal/vcs"
	"github.com/fyrsmithlabs/cirecover/internal/workflows"
)

// RunChain builds a controller for req on top of the shared services and
// runs it. app implements workflows.ChainRunner.
func (a *app) RunChain(ctx context.Context, req workflows.ChainRequest) (controller.Result, error) {
	ctrl, cleanup, err := a.buildController(ctx, req)
	if err != nil {
		return controller.Result{ChainID: req.ChainID}, err
	}
	defer cleanup()
	return ctrl.Run(ctx)
}

var _ workflows.ChainRunner = (*app)(nil)

// chainRequest derives the request of a local run from configuration.
func chainRequest(cfg *config.Config) workflows.ChainRequest {
	return workflows.ChainRequest{
		ChainID:       cfg.Chain.ID,
		Repository:    cfg.GitHub.Owner + "/" + cfg.GitHub.Repo,
		Branch:        cfg.Chain.Branch,
		MaxIterations: cfg.Chain.MaxIterations,
	}
}

// buildController wires every component of a chain:
//  1. CI provider, monitor and log retriever
//  2. Working-tree committer and fix applicator
//  3. Run trigger (push or dispatch)
//  4. Notification transports behind the dispatcher
//  5. Lifecycle hooks and the chain lock
//
// The returned cleanup closes transports opened for the chain.
func (a *app) buildController(ctx context.Context, req workflows.ChainRequest) (*controller.Controller, func(), error) {
	cfg := a.cfg
	logger := a.logger

	provider, err := ci.NewGitHubProvider(ctx, ci.GitHubConfig{
		Owner:             cfg.GitHub.Owner,
		Repo:              cfg.GitHub.Repo,
		Workflow:          cfg.GitHub.Workflow,
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.APIURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Burst:             cfg.GitHub.Burst,
		RequestTimeout:    cfg.GitHub.RequestTimeout.Duration(),
	}, logger.Named("ci"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating CI provider: %w", err)
	}

	retry := ci.RetryConfig{
		MaxAttempts: cfg.Monitor.RetryAttempts,
		Backoff:     cfg.Monitor.RetryBackoff.Duration(),
	}
	retry.ApplyDefaults()
	monitor := ci.NewMonitor(provider, a.clock, retry, a.log.Named("monitor"))
	retriever := ci.NewRetriever(provider, a.clock, retry, cfg.Monitor.MaxLogBytes, logger.Named("retriever"))

	committer, err := vcs.Open(vcs.Config{
		Path:        cfg.Git.Path,
		Remote:      cfg.Git.Remote,
		Branch:      req.Branch,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		Username:    cfg.Git.Username,
		Token:       vcs.StaticToken(cfg.PushToken().Value()),
		MarkerPath:  cfg.Git.MarkerPath,
		Exclude:     []string{cfg.Store.Path},
	}, a.clock, logger.Named("vcs"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening working tree: %w", err)
	}

	applicator, err := fixer.New(fixer.Config{
		Root:            committer.Root(),
		Roots:           cfg.Fix.Roots,
		Strategies:      cfg.Fix.Strategies,
		LintCommand:     cfg.Fix.LintCommand,
		KnownDefects:    cfg.Fix.KnownDefects,
		StrategyTimeout: cfg.Fix.StrategyTimeout.Duration(),
	}, logger.Named("fixer"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating fix applicator: %w", err)
	}

	runTrigger := newTrigger(cfg, committer, provider, a)

	dispatcher, closeNotify, err := a.newDispatcher()
	if err != nil {
		return nil, nil, err
	}

	hm, err := newHookManager(cfg.Hooks)
	if err != nil {
		closeNotify()
		return nil, nil, err
	}

	lock := remediation.NewChainLock(a.store, a.clock,
		req.Repository+"@"+req.Branch, lockOwner(req.ChainID), cfg.Chain.LeaseTTL.Duration())

	ctrl, err := controller.New(controller.Config{
		ChainID:       req.ChainID,
		Repository:    req.Repository,
		Branch:        req.Branch,
		MaxIterations: req.MaxIterations,
		Grace:         cfg.Monitor.Grace.Duration(),
		Wait: ci.WaitOptions{
			PollInterval: cfg.Monitor.PollInterval.Duration(),
			MaxWait:      cfg.Monitor.MaxWait.Duration(),
		},
	}, controller.Deps{
		Trigger:   runTrigger,
		Runs:      monitor,
		Failures:  retriever,
		Knowledge: a.knowledge,
		Fixer:     applicator,
		Committer: committer,
		Notifier:  dispatcher,
		Lock:      lock,
		Hooks:     hm,
		Preflight: []controller.Verifier{provider, committer},
		Clock:     a.clock,
		Logger:    a.log.Named("controller"),
	})
	if err != nil {
		closeNotify()
		return nil, nil, err
	}

	a.log.Info(logging.WithChainID(ctx, req.ChainID), "chain wired",
		zap.String("repository", req.Repository),
		zap.String("branch", req.Branch),
		zap.Int("max_iterations", req.MaxIterations),
		zap.String("trigger", runTrigger.Name()),
		zap.Strings("notifiers", dispatcher.Notifiers()))
	return ctrl, closeNotify, nil
}

func newTrigger(cfg *config.Config, committer *vcs.Committer, provider *ci.GitHubProvider, a *app) trigger.RunTrigger {
	if cfg.Chain.Trigger == config.TriggerDispatch {
		return &trigger.Dispatch{
			Committer:  committer,
			Dispatcher: provider,
			Clock:      a.clock,
			Logger:     a.logger.Named("trigger"),
		}
	}
	return &trigger.Push{
		Committer: committer,
		Clock:     a.clock,
		Logger:    a.logger.Named("trigger"),
	}
}

// newDispatcher opens the configured transports. The log transport is
// always present.
func (a *app) newDispatcher() (*notify.Dispatcher, func(), error) {
	cfg := a.cfg.Notify
	notifiers := []notify.Notifier{&notify.LogNotifier{Logger: a.logger.Named("notify")}}
	cleanup := func() {}

	if cfg.SlackToken.IsSet() {
		notifiers = append(notifiers, notify.NewSlack(cfg.SlackToken.Value(), cfg.SlackChannel, cfg.SlackAPIURL))
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("cirecover"),
			nats.Timeout(cfg.Timeout.Duration()),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATSURL, err)
		}
		notifiers = append(notifiers, notify.NewNATS(nc, cfg.NATSSubject))
		cleanup = func() {
			if err := nc.Drain(); err != nil {
				a.logger.Warn("draining NATS connection", zap.Error(err))
			}
		}
	}

	return notify.NewDispatcher(notifiers, cfg.Timeout.Duration(), a.scrubber, a.logger.Named("notify")), cleanup, nil
}

// newHookManager converts the hooks section into command handlers.
func newHookManager(cfg config.HooksConfig) (*hooks.HookManager, error) {
	hc := hooks.DefaultConfig()
	if d := cfg.Timeout.Duration(); d > 0 {
		hc.Timeout = d
	}
	for _, c := range cfg.Commands {
		hc.Commands = append(hc.Commands, hooks.Command{On: hooks.HookType(c.On), Run: c.Run})
	}
	if err := hc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hooks configuration: %w", err)
	}
	return hooks.NewHookManager(hc), nil
}

// lockOwner identifies this process as the holder of a chain lease.
func lockOwner(chainID string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), chainID)
}

// isBusy reports whether err means another controller holds the chain.
func isBusy(err error) bool {
	return errors.Is(err, remediation.ErrChainBusy)
}
