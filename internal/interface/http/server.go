// Package http implements the REST surface of the progression engine: lesson
// sessions, learner registration, daily rewards, the dashboard, and the
// health and metrics endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neuroswitch/progression-engine/config"
	"github.com/neuroswitch/progression-engine/internal/application/command"
	"github.com/neuroswitch/progression-engine/internal/application/query"
	"github.com/neuroswitch/progression-engine/internal/application/session"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/domain/shared"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/internal/interface/http/handlers"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of an API request body.
	MaxBodyBytes int64

	// AllowedOrigins - CORS origins; empty disables CORS.
	AllowedOrigins []string

	// EnableMetrics - expose Prometheus metrics at /metrics.
	EnableMetrics bool

	// APIKeyHeader - header name for API key authentication.
	APIKeyHeader string

	// APIKeys - valid keys for /api routes; empty disables authentication.
	APIKeys []string

	// Version is reported by / and /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		MaxBodyBytes:   1 << 20,
		EnableMetrics:  true,
		APIKeyHeader:   "X-API-Key",
		Version:        "v1",
	}
}

// ConfigFrom builds the server configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.Host = cfg.HTTP.Host
	c.Port = cfg.HTTP.Port
	c.ReadTimeout = cfg.HTTP.ReadTimeout
	c.WriteTimeout = cfg.HTTP.WriteTimeout
	c.IdleTimeout = cfg.HTTP.IdleTimeout
	c.AllowedOrigins = cfg.HTTP.AllowedOrigins
	c.APIKeys = cfg.HTTP.APIKeys
	c.EnableMetrics = cfg.Observability.MetricsEnabled
	c.Version = cfg.App.Version
	return c
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (write side)
	RegisterLearner  *command.RegisterLearnerHandler
	ClaimDailyReward *command.ClaimDailyRewardHandler

	// Query Handlers (read side)
	GetDashboard  *query.GetDashboardHandler
	PreviewScores *query.PreviewScoresHandler

	// Active lesson sessions
	Sessions *session.Manager

	Curriculum *progression.Curriculum

	HealthChecker handlers.HealthChecker
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger
}

// NewServer creates a new HTTP server with the given configuration and
// dependencies. The gin mode is left to the caller.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewCompositeHealthChecker("")
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           cfg.Address(),
		Handler:        s.engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupMiddleware() {
	s.engine.HandleMethodNotAllowed = true
	s.engine.NoRoute(func(c *gin.Context) {
		writeJSONError(c, http.StatusNotFound, "route_not_found", "No such endpoint")
	})
	s.engine.NoMethod(func(c *gin.Context) {
		writeJSONError(c, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	s.engine.Use(handlers.RequestIDMiddleware(s.logger))
	s.engine.Use(handlers.Recovery(s.logger))
	s.engine.Use(handlers.RequestLogger(s.logger))
	s.engine.Use(handlers.Metrics(s.deps.Metrics))
	if len(s.config.AllowedOrigins) > 0 {
		s.engine.Use(handlers.CORS(s.config.AllowedOrigins))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/live", s.handleLive)

	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	api := s.engine.Group("/api/v1",
		handlers.SecurityHeaders(),
		handlers.RequestSizeLimit(s.config.MaxBodyBytes),
	)
	if len(s.config.APIKeys) > 0 {
		api.Use(handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys).Middleware())
	}

	api.GET("/curriculum", s.handleGetCurriculum)
	api.POST("/scores/preview", s.handlePreviewScores)

	learners := api.Group("/learners")
	learners.POST("", s.handleRegisterLearner)
	learners.GET("/:userId/dashboard", s.handleGetDashboard)
	learners.POST("/:userId/daily-reward", s.handleClaimDailyReward)

	sessions := api.Group("/sessions")
	sessions.POST("", s.handleStartSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleAbandonSession)
	sessions.POST("/:id/events", s.handleReportEvent)
	sessions.POST("/:id/step-complete", s.handleStepComplete)
	sessions.POST("/:id/advance", s.handleAdvance)
	sessions.POST("/:id/retreat", s.handleRetreat)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// StartAsync listens in a goroutine. The channel yields a listen error, if
// any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	s.logger.Info("starting HTTP server", logger.String("address", s.Address()))

	go func() {
		defer close(errCh)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns host:port.
func (s *Server) Address() string {
	return s.config.Address()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// envelope wraps every response body.
type envelope struct {
	Success   bool                `json:"success"`
	Data      any                 `json:"data,omitempty"`
	Error     *handlers.ErrorInfo `json:"error,omitempty"`
	Meta      meta                `json:"meta"`
	RequestID string              `json:"request_id,omitempty"`
}

type meta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func writeJSON(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: handlers.RequestID(c),
	})
}

func writeJSONError(c *gin.Context, status int, code, message string) {
	writeJSONErrorWithDetails(c, status, code, message, "")
}

func writeJSONErrorWithDetails(c *gin.Context, status int, code, message, details string) {
	c.JSON(status, envelope{
		Error:     &handlers.ErrorInfo{Code: code, Message: message, Details: details},
		Meta:      meta{Timestamp: time.Now().UTC()},
		RequestID: handlers.RequestID(c),
	})
}

// writeDomainError maps an application error onto a status code. Anything
// that is not a recognised domain failure is logged and reported as 500
// without leaking its message.
func writeDomainError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		writeJSONError(c, status, code, "An unexpected error occurred")
		return
	}
	writeJSONError(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsStateConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
