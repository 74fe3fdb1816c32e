package fixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"go.uber.org/zap"
)

// DefaultLintCommand runs eslint without installing it.
var DefaultLintCommand = []string{"npx", "--no-install", "eslint", "--fix", "."}

const maxLintOutput = 4096

// LintStrategy runs an external auto-fixer in the repository root. A
// missing executable is not an error. A non-zero exit is logged and only
// the resulting diff counts.
type LintStrategy struct {
	Command []string
	Logger  *zap.Logger
}

// Name implements Strategy.
func (s *LintStrategy) Name() string { return remediation.StrategyLint }

// Apply implements Strategy.
func (s *LintStrategy) Apply(ctx context.Context, ws *Workspace, _ *remediation.Guide) (bool, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	command := s.Command
	if len(command) == 0 {
		command = DefaultLintCommand
	}

	before, err := ws.Snapshot()
	if err != nil {
		return false, fmt.Errorf("snapshotting tree: %w", err)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = ws.Root()
	cmd.Env = append(os.Environ(), "CI=true", "NO_COLOR=1")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	switch {
	case errors.Is(runErr, exec.ErrNotFound):
		logger.Info("lint tool not installed; skipping", zap.String("command", command[0]))
		return false, nil
	case ctx.Err() != nil:
		return false, fmt.Errorf("lint command: %w", ctx.Err())
	case runErr != nil:
		logger.Warn("lint command exited with error",
			zap.Strings("command", command),
			zap.Error(runErr),
			zap.String("output", tail(out.Bytes(), maxLintOutput)))
	}

	if err := ws.Refresh(); err != nil {
		return false, err
	}
	after, err := ws.Snapshot()
	if err != nil {
		return false, fmt.Errorf("snapshotting tree: %w", err)
	}
	changed := diffSnapshots(before, after)
	ws.markWritten(changed)
	return len(changed) > 0, nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
