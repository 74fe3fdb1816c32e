package fixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/ignore"
	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cirecover/internal/fixer"

// ErrFixNoOp means no strategy changed the working tree.
var ErrFixNoOp = errors.New("no fix strategy changed the working tree")

// IgnoreFiles are read from the repository root to exclude paths.
var IgnoreFiles = []string{".gitignore", ".cirecoverignore"}

// Strategy is one remediation step.
type Strategy interface {
	Name() string
	// Apply edits ws and reports whether any bytes were written.
	Apply(ctx context.Context, ws *Workspace, guide *remediation.Guide) (bool, error)
}

// Config configures an Applicator.
type Config struct {
	Root            string
	Roots           []string
	Strategies      []string
	LintCommand     []string
	KnownDefects    map[string]string
	StrategyTimeout time.Duration
	MaxFileBytes    int64
}

// StrategyFailure records a strategy that returned an error.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// Result summarizes one ApplyFixes call.
type Result struct {
	Changed           bool
	StrategiesApplied []string
	FilesChanged      []string
	Failures          []StrategyFailure
}

// Applicator runs the strategy chain.
type Applicator struct {
	cfg        Config
	strategies []Strategy
	logger     *zap.Logger
	applied    metric.Int64Counter
}

// New builds an Applicator with the strategies named in cfg.Strategies.
func New(cfg Config, logger *zap.Logger) (*Applicator, error) {
	names := cfg.Strategies
	if len(names) == 0 {
		names = remediation.Strategies()
	}
	strategies := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := newStrategy(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return NewWithStrategies(cfg, strategies, logger), nil
}

// NewWithStrategies builds an Applicator with an explicit chain.
func NewWithStrategies(cfg Config, strategies []Strategy, logger *zap.Logger) *Applicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = 5 * time.Minute
	}
	a := &Applicator{cfg: cfg, strategies: strategies, logger: logger}

	var err error
	a.applied, err = otel.Meter(instrumentationName).Int64Counter(
		"cirecover.fixer.strategy_applied_total",
		metric.WithDescription("Strategies that changed the working tree"),
		metric.WithUnit("{strategy}"),
	)
	if err != nil {
		logger.Warn("failed to create strategy counter", zap.Error(err))
	}
	return a
}

// NewIgnoreMatcher reads IgnoreFiles under root on top of the default
// excludes.
func NewIgnoreMatcher(root string) (*ignore.Matcher, error) {
	m, err := ignore.NewParser(IgnoreFiles, ignore.DefaultExcludes).ParseProject(root)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}
	return m, nil
}

func newStrategy(name string, cfg Config, logger *zap.Logger) (Strategy, error) {
	switch name {
	case remediation.StrategyLint:
		return &LintStrategy{Command: cfg.LintCommand, Logger: logger}, nil
	case remediation.StrategyKnownDefect:
		return &KnownDefectStrategy{Tokens: cfg.KnownDefects}, nil
	case remediation.StrategyImportRepair:
		return &ImportRepairStrategy{}, nil
	case remediation.StrategyErrorHandling:
		return &ErrorHandlingStrategy{}, nil
	case remediation.StrategyExportValidation:
		return &ExportValidationStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown fix strategy %q", name)
	}
}

// Strategies returns the chain's names in order.
func (a *Applicator) Strategies() []string {
	names := make([]string, len(a.strategies))
	for i, s := range a.strategies {
		names[i] = s.Name()
	}
	return names
}

// ApplyFixes runs every strategy against the working tree. It returns
// ErrFixNoOp together with the Result when nothing changed.
func (a *Applicator) ApplyFixes(ctx context.Context, guide *remediation.Guide) (Result, error) {
	var res Result
	if guide == nil {
		guide = &remediation.Guide{}
	}

	matcher, err := NewIgnoreMatcher(a.cfg.Root)
	if err != nil {
		return res, err
	}
	ws, err := OpenWorkspace(a.cfg.Root, a.cfg.Roots, matcher, a.cfg.MaxFileBytes)
	if err != nil {
		return res, err
	}

	for _, s := range a.strategies {
		if err := ctx.Err(); err != nil {
			res.FilesChanged = ws.Written()
			return res, err
		}

		sctx, cancel := context.WithTimeout(ctx, a.cfg.StrategyTimeout)
		changed, err := s.Apply(sctx, ws, guide)
		cancel()

		if err != nil {
			a.logger.Warn("fix strategy failed",
				zap.String("strategy", s.Name()),
				zap.Error(err))
			res.Failures = append(res.Failures, StrategyFailure{Strategy: s.Name(), Err: err})
		}
		if changed {
			res.StrategiesApplied = append(res.StrategiesApplied, s.Name())
			if a.applied != nil {
				a.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", s.Name())))
			}
			a.logger.Info("fix strategy changed the tree", zap.String("strategy", s.Name()))
		}
	}

	res.FilesChanged = ws.Written()
	res.Changed = len(res.StrategiesApplied) > 0
	if !res.Changed {
		if len(res.Failures) > 0 {
			return res, fmt.Errorf("%w (%d strategies failed)", ErrFixNoOp, len(res.Failures))
		}
		return res, ErrFixNoOp
	}
	return res, nil
}
