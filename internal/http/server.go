// Package http serves the query-time store over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecsnap/internal/failure"
	"github.com/fyrsmithlabs/vecsnap/internal/logging"
	"github.com/fyrsmithlabs/vecsnap/internal/query"
)

// maxBodySize bounds search request bodies.
const maxBodySize = "4M"

// Searcher answers similarity queries. *query.Store implements it.
type Searcher interface {
	Query(ctx context.Context, req query.Request) ([]query.Result, error)
	Stats() query.Stats
	Invalidate()
}

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedLong(ctx context.Context, text string) ([]float32, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host     string
	Port     int
	DefaultK int
	Version  string
}

// Server exposes the query store, health and Prometheus metrics.
type Server struct {
	echo     *echo.Echo
	searcher Searcher
	embedder Embedder
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server. embedder may be nil, in which case
// text queries are rejected.
func NewServer(searcher Searcher, embedder Embedder, logger *zap.Logger, cfg *Config) (*Server, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
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
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if logging.ValidID(requestID) {
				c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), requestID)))
			}
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		searcher: searcher,
		embedder: embedder,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.GET("/stats", s.handleStats)
	v1.POST("/reload", s.handleReload)
}

// Handler returns the server's http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSearch runs a similarity query. A snapshot that cannot be loaded
// yields a degraded 200 response rather than an error. When only a reload
// failed, the degraded response carries results from the expired snapshot.
func (s *Server) handleSearch(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", append(logging.ContextFields(ctx), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if (len(req.Vector) == 0) == (req.Text == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of vector and text is required")
	}
	if req.K < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "k must not be negative")
	}
	if req.K == 0 {
		req.K = s.config.DefaultK
	}

	vector := req.Vector
	if req.Text != "" {
		if s.embedder == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "text queries are not enabled")
		}
		v, err := s.embedder.EmbedLong(ctx, req.Text)
		if err != nil {
			s.logger.Warn("embedding query text failed", append(logging.ContextFields(ctx), zap.Error(err))...)
			return echo.NewHTTPError(http.StatusBadGateway, "embedding provider unavailable")
		}
		vector = v
	}

	results, err := s.searcher.Query(ctx, query.Request{
		Vector:   vector,
		K:        req.K,
		MinScore: req.MinScore,
		Filter:   req.Filter,
	})
	var se *failure.SnapshotError
	switch {
	case err == nil:
	case query.IsStale(err):
		var stale *query.StaleError
		errors.As(err, &stale)
		reason := "stale"
		if errors.As(err, &se) {
			reason = string(se.Kind)
		}
		s.logger.Warn("serving search from stale snapshot",
			append(logging.ContextFields(ctx), zap.Time("loaded_at", stale.LoadedAt), zap.Error(err))...)
		if results == nil {
			results = []query.Result{}
		}
		return c.JSON(http.StatusOK, SearchResponse{
			Results:  results,
			Degraded: true,
			Stale:    true,
			Reason:   reason,
			Took:     time.Since(start),
		})
	case errors.As(err, &se):
		s.logger.Warn("serving degraded search response",
			append(logging.ContextFields(ctx), zap.String("kind", string(se.Kind)), zap.Error(err))...)
		return c.JSON(http.StatusOK, SearchResponse{
			Results:  []query.Result{},
			Degraded: true,
			Reason:   string(se.Kind),
			Took:     time.Since(start),
		})
	case errors.Is(err, query.ErrInvalidRequest), errors.Is(err, query.ErrDimensionMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("search failed", append(logging.ContextFields(ctx), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}

	if results == nil {
		results = []query.Result{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results, Took: time.Since(start)})
}

// handleStats reports the cached snapshot.
func (s *Server) handleStats(c echo.Context) error {
	stats := s.searcher.Stats()
	status := "ok"
	if !stats.Loaded {
		status = "unloaded"
	}
	return c.JSON(http.StatusOK, StatsResponse{Status: status, Version: s.config.Version, Snapshot: stats})
}

// handleReload drops the cached snapshot so the next search reloads it.
func (s *Server) handleReload(c echo.Context) error {
	s.searcher.Invalidate()
	return c.NoContent(http.StatusAccepted)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
