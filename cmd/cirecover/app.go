package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"github.com/fyrsmithlabs/cirecover/internal/config"
	"github.com/fyrsmithlabs/cirecover/internal/logging"
	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/secrets"
	"github.com/fyrsmithlabs/cirecover/internal/telemetry"
)

// app holds what every command shares: configuration, logging, telemetry,
// the scrubber and the recovery knowledge store.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	logger    *zap.Logger
	tel       *telemetry.Telemetry
	clock     clock.Clock
	scrubber  *secrets.Scrubber
	store     *remediation.SQLiteStore
	knowledge *remediation.Service
}

// appOptions tweak newApp for a command.
type appOptions struct {
	// logToStderr keeps stdout free for a protocol.
	logToStderr bool
}

// loadConfig loads configuration from the --config file and the
// environment, then validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes the shared services in dependency order:
//  1. Telemetry (degrades to no-op when disabled)
//  2. Logger
//  3. Secret scrubber
//  4. Knowledge store and service
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	log, err := newLogger(cfg.Log, tel, opts.logToStderr)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := log.Underlying()

	scrubber, err := newScrubber(cfg.Secrets)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing secret scrubber: %w", err)
	}

	store, err := remediation.OpenSQLite(cfg.Store.Path)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("opening knowledge store %s: %w", cfg.Store.Path, err)
	}

	clk := clock.New()
	a := &app{
		cfg:       cfg,
		log:       log,
		logger:    logger,
		tel:       tel,
		clock:     clk,
		scrubber:  scrubber,
		store:     store,
		knowledge: remediation.NewService(store, scrubber, clk, logger.Named("remediation")),
	}

	for _, problem := range tel.Health().Problems {
		log.Warn(ctx, "telemetry signal disabled", zap.String("problem", problem))
	}
	log.Debug(ctx, "application initialized",
		zap.String("version", version),
		zap.String("store", cfg.Store.Path),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("otel_logs", tel.LoggerProvider() != nil),
		zap.Bool("scrubbing", scrubber.Enabled()))
	return a, nil
}

// Close releases the store and flushes telemetry and logs.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing knowledge store: %w", err))
	}
	_ = a.log.Sync()
	// Shutdown exports the buffered OTEL records, so it runs last.
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	return errors.Join(errs...)
}

// newLogger maps the log section onto the logging package config. Entries
// are mirrored to OpenTelemetry whenever telemetry exports logs.
func newLogger(cfg config.LogConfig, tel *telemetry.Telemetry, stderr bool) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()

	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	lc.Level = level
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	lc.Output.Stderr = stderr

	provider := tel.LoggerProvider()
	lc.Output.OTEL = provider != nil

	return logging.NewLogger(lc, provider)
}

// newScrubber builds the failure-text scrubber from the secrets section.
func newScrubber(cfg config.SecretsConfig) (*secrets.Scrubber, error) {
	if !cfg.Enabled {
		return secrets.Disabled(), nil
	}
	sc := secrets.DefaultConfig()
	sc.Gitleaks = cfg.Gitleaks
	sc.AllowlistFile = cfg.AllowlistFile
	return secrets.New(sc)
}
