package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// DefaultTimeout bounds one hook command.
const DefaultTimeout = 30 * time.Second

// Config holds hook configuration
type Config struct {
	Commands []Command
	Timeout  time.Duration
}

// Command is an external program run on a hook.
type Command struct {
	On  HookType
	Run []string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{Timeout: DefaultTimeout}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("hooks.timeout must not be negative, got %s", c.Timeout)
	}
	for i, cmd := range c.Commands {
		switch cmd.On {
		case HookChainStart, HookTransition, HookIteration, HookChainEnd:
		default:
			return fmt.Errorf("hooks.commands[%d]: unknown hook %q", i, cmd.On)
		}
		if len(cmd.Run) == 0 {
			return fmt.Errorf("hooks.commands[%d]: run is empty", i)
		}
	}
	return nil
}

// CommandHandler runs argv with the event in its environment.
func CommandHandler(argv []string, timeout time.Duration) HookHandler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return func(ctx context.Context, ev Event) error {
		if len(argv) == 0 {
			return errors.New("empty hook command")
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = append(os.Environ(),
			"CIRECOVER_HOOK="+string(ev.Type),
			"CIRECOVER_HOOK_CHAIN_ID="+ev.ChainID,
			"CIRECOVER_HOOK_FROM="+ev.From,
			"CIRECOVER_HOOK_TO="+ev.To,
			"CIRECOVER_HOOK_ITERATION="+strconv.Itoa(ev.Iteration),
			"CIRECOVER_HOOK_REASON="+ev.Reason,
		)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s: %w: %s", argv[0], err, bytes.TrimSpace(out.Bytes()))
		}
		return nil
	}
}
