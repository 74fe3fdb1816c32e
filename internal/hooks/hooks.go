package hooks

import (
	"context"
	"errors"
	"fmt"
)

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookChainStart is called once the chain lock is held.
	HookChainStart HookType = "chain_start"

	// HookTransition is called after every state transition.
	HookTransition HookType = "transition"

	// HookIteration is called when a fix was pushed and the iteration advanced.
	HookIteration HookType = "iteration"

	// HookChainEnd is called with the terminal state.
	HookChainEnd HookType = "chain_end"
)

// Event describes what happened.
type Event struct {
	Type      HookType
	ChainID   string
	From      string
	To        string
	Iteration int
	Reason    string
}

// HookHandler is a function that handles a hook event
type HookHandler func(ctx context.Context, ev Event) error

// HookManager manages lifecycle hooks
type HookManager struct {
	config   *Config
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a hook manager and registers the configured
// commands.
func NewHookManager(config *Config) *HookManager {
	if config == nil {
		config = DefaultConfig()
	}
	h := &HookManager{
		config:   config,
		handlers: make(map[HookType][]HookHandler),
	}
	for _, c := range config.Commands {
		h.RegisterHandler(c.On, CommandHandler(c.Run, config.Timeout))
	}
	return h
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute runs every handler for ev.Type, in registration order. A failing
// handler does not stop the others; their errors are joined.
func (h *HookManager) Execute(ctx context.Context, ev Event) error {
	var errs []error
	for _, handler := range h.handlers[ev.Type] {
		if err := handler(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("hook %s failed: %w", ev.Type, errors.Join(errs...))
	}
	return nil
}

// Config returns the hook configuration
func (h *HookManager) Config() *Config {
	return h.config
}
