package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cirecover/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve recovery guides to agents over MCP stdio",
	Long: `Run an MCP server on stdin/stdout exposing recovery guides and learned
patterns as tools. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{logToStderr: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "cirecover",
		Version: version,
		Logger:  a.logger.Named("mcp"),
	}, a.knowledge, a.scrubber)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server error: %w", err)
	}
	return nil
}
