package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cihttp "github.com/fyrsmithlabs/cirecover/internal/http"
)

var serveFlags struct {
	host string
	port int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recovery guides over HTTP",
	Long: `Serve the recovery knowledge store read-only over HTTP.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/v1/chains
  GET  /api/v1/chains/:chain/guides
  GET  /api/v1/chains/:chain/guides/latest
  GET  /api/v1/chains/:chain/guides/:iteration
  POST /api/v1/scrub`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "listen host (default from server.host)")
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (default from server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.host != "" {
		cfg.Server.Host = serveFlags.host
	}
	if serveFlags.port != 0 {
		cfg.Server.Port = serveFlags.port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	srv, err := cihttp.NewServer(a.knowledge, a.scrubber, a.logger.Named("http"), &cihttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	a.logger.Info("guide server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}
