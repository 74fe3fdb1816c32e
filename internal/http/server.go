// Package http serves recovery guides over a read-only JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/secrets"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// GuideReader is the read side of the knowledge store.
// *remediation.Service satisfies it.
type GuideReader interface {
	Guide(ctx context.Context, chainID string, iteration int) (*remediation.Guide, error)
	LatestGuide(ctx context.Context, chainID string) (*remediation.Guide, error)
	ListGuides(ctx context.Context, chainID string) ([]remediation.Guide, error)
	ListChains(ctx context.Context) ([]remediation.ChainSummary, error)
}

// Server provides HTTP endpoints for recovery guides.
type Server struct {
	echo     *echo.Echo
	guides   GuideReader
	scrubber *secrets.Scrubber
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(guides GuideReader, scrubber *secrets.Scrubber, logger *zap.Logger, cfg *Config) (*Server, error) {
	if guides == nil {
		return nil, fmt.Errorf("guide reader cannot be nil")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		guides:   guides,
		scrubber: scrubber,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/chains", s.handleListChains)
	v1.GET("/chains/:chain/guides", s.handleListGuides)
	v1.GET("/chains/:chain/guides/latest", s.handleLatestGuide)
	v1.GET("/chains/:chain/guides/:iteration", s.handleGuide)
	v1.POST("/scrub", s.handleScrub)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListChains(c echo.Context) error {
	chains, err := s.guides.ListChains(c.Request().Context())
	if err != nil {
		return s.internalError(err)
	}
	if chains == nil {
		chains = []remediation.ChainSummary{}
	}
	return c.JSON(http.StatusOK, ChainsResponse{Chains: chains})
}

func (s *Server) handleListGuides(c echo.Context) error {
	chainID := c.Param("chain")
	guides, err := s.guides.ListGuides(c.Request().Context(), chainID)
	if err != nil {
		return s.internalError(err)
	}
	if len(guides) == 0 {
		guideLookups.WithLabelValues("miss").Inc()
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no guides for chain %q", chainID))
	}
	guideLookups.WithLabelValues("hit").Inc()
	return c.JSON(http.StatusOK, GuidesResponse{ChainID: chainID, Guides: guides})
}

func (s *Server) handleLatestGuide(c echo.Context) error {
	g, err := s.guides.LatestGuide(c.Request().Context(), c.Param("chain"))
	return s.guideResponse(c, g, err)
}

func (s *Server) handleGuide(c echo.Context) error {
	iteration, err := strconv.Atoi(c.Param("iteration"))
	if err != nil || iteration < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "iteration must be a non-negative integer")
	}
	g, err := s.guides.Guide(c.Request().Context(), c.Param("chain"), iteration)
	return s.guideResponse(c, g, err)
}

func (s *Server) guideResponse(c echo.Context, g *remediation.Guide, err error) error {
	switch {
	case errors.Is(err, remediation.ErrGuideNotFound):
		guideLookups.WithLabelValues("miss").Inc()
		return echo.NewHTTPError(http.StatusNotFound, "guide not found")
	case err != nil:
		return s.internalError(err)
	}
	guideLookups.WithLabelValues("hit").Inc()
	return c.JSON(http.StatusOK, g)
}

func (s *Server) internalError(err error) error {
	s.logger.Error("guide lookup failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "guide lookup failed")
}

// handleScrub scrubs secrets from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug("scrubbed content", zap.Int("findings", len(result.Findings)))

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: len(result.Findings),
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
