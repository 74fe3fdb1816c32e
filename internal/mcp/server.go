package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/secrets"
)

// Knowledge is the read side of the knowledge store.
// *remediation.Service satisfies it.
type Knowledge interface {
	Guide(ctx context.Context, chainID string, iteration int) (*remediation.Guide, error)
	LatestGuide(ctx context.Context, chainID string) (*remediation.Guide, error)
	ListGuides(ctx context.Context, chainID string) ([]remediation.Guide, error)
	ListChains(ctx context.Context) ([]remediation.ChainSummary, error)
	ListPatterns(ctx context.Context) ([]remediation.Pattern, error)
}

// Server is an MCP server over the knowledge store.
type Server struct {
	mcp          *mcp.Server
	knowledge    Knowledge
	scrubber     *secrets.Scrubber
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "cirecover")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cirecover",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server.
func NewServer(cfg *Config, knowledge Knowledge, scrubber *secrets.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if knowledge == nil {
		return nil, fmt.Errorf("knowledge store is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		knowledge:    knowledge,
		scrubber:     scrubber,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
	}

	s.registerGuideTools()
	s.registerPatternTools()
	s.registerSearchTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves a single session on t until it ends.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect starts a session on t without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// Tools returns the registered tool metadata.
func (s *Server) Tools() *ToolRegistry {
	return s.toolRegistry
}
