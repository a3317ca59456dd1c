// Package api provides the HTTP administration and execution surface:
// connector and model management, pipeline definitions, and the execute
// endpoint the host search engine calls.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/pipeline"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

// Scorer executes one remote scoring call for the predict endpoint.
// Implemented by scoring.Adapter.
type Scorer interface {
	Score(ctx context.Context, cfg *connector.Config, query string, documents []string) ([]transform.Score, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the HTTP endpoints.
type Server struct {
	echo       *echo.Echo
	connectors *connector.Registry
	pipelines  *pipeline.Registry
	scorer     Scorer
	logger     *logging.Logger
	config     *Config
}

// NewServer creates the HTTP server with its routes and middleware.
func NewServer(connectors *connector.Registry, pipelines *pipeline.Registry, scorer Scorer, logger *logging.Logger, cfg *Config) (*Server, error) {
	if connectors == nil {
		return nil, fmt.Errorf("connector registry is required")
	}
	if pipelines == nil {
		return nil, fmt.Errorf("pipeline registry is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 7700}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestContext(logger))

	s := &Server{
		echo:       e,
		connectors: connectors,
		pipelines:  pipelines,
		scorer:     scorer,
		logger:     logger,
		config:     cfg,
	}
	s.registerRoutes()
	return s, nil
}

// validCorrelationID mirrors the logging layer's id charset so a hostile
// X-Request-ID header is dropped instead of tripping its validation.
func validCorrelationID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// requestContext attaches the request id to the request context for log
// correlation and emits one access log line per request.
func requestContext(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			if validCorrelationID(rid) {
				ctx := logging.WithRequestID(c.Request().Context(), rid)
				c.SetRequest(c.Request().WithContext(ctx))
			}

			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/connectors", s.handleCreateConnector)
	v1.GET("/connectors", s.handleListConnectors)
	v1.GET("/connectors/:id", s.handleGetConnector)
	v1.PUT("/connectors/:id", s.handleUpdateConnector)
	v1.DELETE("/connectors/:id", s.handleDeleteConnector)

	v1.POST("/models", s.handleDeployModel)
	v1.GET("/models", s.handleListModels)
	v1.GET("/models/:id", s.handleGetModel)
	v1.DELETE("/models/:id", s.handleUndeployModel)
	v1.POST("/models/:id/_predict", s.handlePredict)

	v1.PUT("/pipelines/:name", s.handlePutPipeline)
	v1.GET("/pipelines", s.handleListPipelines)
	v1.GET("/pipelines/:name", s.handleGetPipeline)
	v1.DELETE("/pipelines/:name", s.handleDeletePipeline)
	v1.POST("/pipelines/:name/_execute", s.handleExecutePipeline)

	v1.GET("/presets", s.handleListPresets)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Echo exposes the underlying router for tests and extra route wiring.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
