// Package api serves the model library, the generation settings and chats
// over HTTP. Replies stream as server-sent events.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/chat"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/metrics"
	"github.com/samcharles93/aistudio/internal/settings"
)

// Default limits for requests that start probes.
const (
	DefaultProbeRate  = rate.Limit(2)
	DefaultProbeBurst = 4
)

type Config struct {
	Catalog  *catalog.Catalog
	Settings *settings.Store
	Chats    *chat.Manager
	// Metrics is optional; nil disables /metrics and request instrumentation.
	Metrics *metrics.Metrics
	// Accelerators lists the kinds the engine supports, for /healthz.
	Accelerators []backend.Kind
	// Accelerator is used when a message does not name one.
	Accelerator backend.Kind
	ProbeRate   rate.Limit
	ProbeBurst  int
	Log         logger.Logger
}

type Server struct {
	cfg     Config
	limiter *rate.Limiter
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Catalog == nil || cfg.Settings == nil || cfg.Chats == nil {
		return nil, errors.New("api: catalog, settings and chats are required")
	}
	if cfg.Accelerator == "" {
		cfg.Accelerator = backend.DefaultKind
	}
	if cfg.ProbeRate <= 0 {
		cfg.ProbeRate = DefaultProbeRate
	}
	if cfg.ProbeBurst <= 0 {
		cfg.ProbeBurst = DefaultProbeBurst
	}
	return &Server{
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.ProbeRate, cfg.ProbeBurst),
		log:     logger.OrDefault(cfg.Log).With("component", "api"),
		clock:   time.Now,
	}, nil
}

func (s *Server) Register(e *echo.Echo) {
	if s.cfg.Metrics != nil {
		e.Use(s.instrument)
		e.GET("/metrics", echo.WrapHandler(s.cfg.Metrics.Handler()))
	}
	e.GET("/healthz", s.handleHealth)

	// Model library
	e.GET("/v1/models", s.handleListModels)
	e.POST("/v1/models", s.handleImportModel, s.limitProbes)
	e.GET("/v1/models/:id", s.handleGetModel)
	e.DELETE("/v1/models/:id", s.handleDeleteModel)
	e.PUT("/v1/models/:id/tokenizer", s.handlePairTokenizer)
	e.POST("/v1/models/:id/probe", s.handleReprobe, s.limitProbes)

	// Settings
	e.GET("/v1/settings", s.handleGetSettings)
	e.PATCH("/v1/settings", s.handleUpdateSettings)
	e.DELETE("/v1/settings", s.handleResetSettings)

	// Chats
	e.POST("/v1/chats", s.handleCreateChat)
	e.GET("/v1/chats/:id", s.handleGetChat)
	e.DELETE("/v1/chats/:id", s.handleDeleteChat)
	e.PUT("/v1/chats/:id/model", s.handleSelectModel)
	e.POST("/v1/chats/:id/messages", s.handleSendMessage)
	e.POST("/v1/chats/:id/stop", s.handleStop)
}

func (s *Server) handleHealth(c *echo.Context) error {
	kinds := make([]string, len(s.cfg.Accelerators))
	for i, k := range s.cfg.Accelerators {
		kinds[i] = k.String()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"accelerators": kinds,
		"models":       len(s.cfg.Catalog.List()),
	})
}

// limitProbes rejects requests that would start a probe faster than the
// configured rate.
func (s *Server) limitProbes(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if !s.limiter.Allow() {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many import or probe requests", "", "")
		}
		return next(c)
	}
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		start := s.clock()
		err := next(c)
		status := http.StatusOK
		if res, uerr := echo.UnwrapResponse(c.Response()); uerr == nil && res.Status != 0 {
			status = res.Status
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		} else if err != nil {
			status = http.StatusInternalServerError
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.cfg.Metrics.ObserveHTTP(route, c.Request().Method, status, s.clock().Sub(start))
		return err
	}
}
