package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/config"
	"github.com/fyrsmithlabs/cirecover/internal/logging"
	"github.com/fyrsmithlabs/cirecover/internal/vcs"
	"github.com/fyrsmithlabs/cirecover/internal/workflows"
)

var runFlags struct {
	chainID       string
	branch        string
	maxIterations int
	trigger       string
	temporal      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Recover the branch's CI",
	Long: `Run one recovery chain: trigger CI, wait for the run, classify failures,
apply fixes, commit, push and re-run until CI is green or the iteration budget
is spent.

Inputs come from the config file, CIRECOVER_* variables and, inside GitHub
Actions, GITHUB_TOKEN, GITHUB_REPOSITORY and GITHUB_REF_NAME.

Exit status is 0 when the chain succeeded or escalated, and 1 on an
unexpected internal error.

Examples:
  # Recover the current branch with up to 3 fix iterations
  cirecover run

  # Only write a recovery guide, never push a fix
  cirecover run --max-iterations 0

  # Run the chain on a Temporal worker
  cirecover run --temporal`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.chainID, "chain-id", "", "chain identifier (default from GITHUB_RUN_ID or random)")
	f.StringVar(&runFlags.branch, "branch", "", "branch to recover (default from environment or the checked out branch)")
	f.IntVar(&runFlags.maxIterations, "max-iterations", 0, "fix iterations allowed (0 writes a guide only)")
	f.StringVar(&runFlags.trigger, "trigger", "", "how runs start: push or dispatch")
	f.BoolVar(&runFlags.temporal, "temporal", false, "execute the chain as a Temporal workflow")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	req := chainRequest(cfg)
	ctx = logging.WithChainID(ctx, req.ChainID)
	a.log.Info(ctx, "starting recovery chain",
		zap.String("repository", req.Repository),
		zap.String("branch", req.Branch),
		zap.Int("max_iterations", req.MaxIterations),
		zap.Bool("temporal", runFlags.temporal || cfg.Temporal.Enabled))

	var outcome *workflows.ChainOutcome
	if runFlags.temporal || cfg.Temporal.Enabled {
		outcome, err = runOnTemporal(ctx, cfg, req)
	} else {
		outcome, err = runLocal(ctx, a, req)
	}
	if err != nil {
		a.log.Error(ctx, "recovery chain failed", zap.Error(err))
		return err
	}

	renderOutcome(cmd.OutOrStdout(), outcome)
	return nil
}

// runLocal runs the chain in this process. Escalations are outcomes, not
// errors.
func runLocal(ctx context.Context, a *app, req workflows.ChainRequest) (*workflows.ChainOutcome, error) {
	res, err := a.RunChain(ctx, req)
	if err != nil {
		if isBusy(err) {
			return nil, fmt.Errorf("chain %s: another controller is recovering %s: %w", req.ChainID, req.Branch, err)
		}
		return nil, err
	}
	return &workflows.ChainOutcome{
		ChainID:            res.ChainID,
		State:              string(res.State),
		Iterations:         res.Iterations,
		Reason:             string(res.Reason),
		LastClassification: res.LastClassification,
		RunURL:             res.RunURL,
		Escalated:          res.Escalated(),
	}, nil
}

// runOnTemporal starts the chain workflow and waits for a worker to finish it.
func runOnTemporal(ctx context.Context, cfg *config.Config, req workflows.ChainRequest) (*workflows.ChainOutcome, error) {
	c, err := dialTemporal(cfg.Temporal)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return workflows.StartChain(ctx, c, cfg.Temporal.TaskQueue, req, workflows.DefaultChainOptions())
}

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// applyRunFlags layers command-line flags over the loaded configuration and
// fills the chain inputs that have local fallbacks.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("chain-id") {
		cfg.Chain.ID = runFlags.chainID
	}
	if flags.Changed("branch") {
		cfg.Chain.Branch = runFlags.branch
	}
	if flags.Changed("max-iterations") {
		cfg.Chain.MaxIterations = runFlags.maxIterations
	}
	if flags.Changed("trigger") {
		cfg.Chain.Trigger = runFlags.trigger
	}
	return completeRunConfig(cfg, vcs.CurrentBranch, uuid.NewString)
}

// completeRunConfig defaults the branch to the checked out one and the chain
// ID to a random one, then validates.
func completeRunConfig(cfg *config.Config, currentBranch func(string) (string, error), newID func() string) error {
	if cfg.Chain.Branch == "" {
		branch, err := currentBranch(cfg.Git.Path)
		if err != nil {
			return fmt.Errorf("determining branch: %w", err)
		}
		cfg.Chain.Branch = branch
	}
	if cfg.Chain.ID == "" {
		cfg.Chain.ID = "chain-" + newID()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
