package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/workflows"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Host recovery chains on a Temporal worker",
	Long: `Start a Temporal worker that executes recovery chain workflows started
with "cirecover run --temporal". The workflow ID is the chain ID, so a chain
runs on at most one worker at a time.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	c, err := dialTemporal(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	a.logger.Info("temporal client connected", zap.String("host", cfg.Temporal.HostPort))

	w := workflows.NewWorker(c, cfg.Temporal.TaskQueue, &workflows.Activities{Runner: a})

	a.logger.Info("worker configured", zap.String("task_queue", cfg.Temporal.TaskQueue))

	// Run returns once ctx is cancelled by SIGINT or SIGTERM.
	interrupt := make(chan interface{})
	go func() {
		<-ctx.Done()
		a.logger.Info("shutdown signal received")
		close(interrupt)
	}()
	if err := w.Run(interrupt); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}

	a.logger.Info("worker stopped gracefully")
	return nil
}
