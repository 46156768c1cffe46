// Package api serves the run registry over HTTP as JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/deixis/suiterun"
	"github.com/deixis/suiterun/internal/metrics"
	"github.com/deixis/suiterun/internal/registry"
	"github.com/deixis/suiterun/internal/run"
)

// Registry is the view of the run registry the routes need.
type Registry interface {
	Suites() []string
	Start(ctx context.Context, suite string) (string, error)
	Status(id string) (run.Status, error)
	Cancel(id string) error
	List() []run.Status
}

// Options configures a Server.
type Options struct {
	Logger      zerolog.Logger
	CORSOrigins []string     // browser origins allowed to call the API; none disables CORS
	Proxies     []string     // trusted reverse proxies; defaults to loopback
	MCP         http.Handler // mounted at /mcp when set
}

// Server routes HTTP requests to a Registry.
type Server struct {
	registry Registry
	router   *gin.Engine
	log      zerolog.Logger
	started  time.Time
}

// New builds the router and registers every route.
func New(reg Registry, opts Options) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(opts.Logger))
	r.Use(RequestMetrics())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: []string{"GET", "POST", "DELETE"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	proxies := opts.Proxies
	if len(proxies) == 0 {
		proxies = []string{"127.0.0.1", "::1"}
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		opts.Logger.Warn().Err(err).Strs("proxies", proxies).Msg("invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}

	s := &Server{
		registry: reg,
		router:   r,
		log:      opts.Logger,
		started:  time.Now(),
	}
	s.routes(opts.MCP)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(mcp http.Handler) {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/suites", s.listSuites)
	r.POST("/runs", s.startRun)
	r.GET("/runs", s.listRuns)
	r.GET("/runs/:id", s.getRun)
	r.DELETE("/runs/:id", s.cancelRun)
	if mcp != nil {
		r.Any("/mcp", gin.WrapH(mcp))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": suiterun.Version,
	})
}

func (s *Server) listSuites(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"suites": s.registry.Suites()})
}

type startRequest struct {
	Suite string `json:"suite" binding:"required"`
}

func (s *Server) startRun(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}
	id, err := s.registry.Start(c.Request.Context(), req.Suite)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) listRuns(c *gin.Context) {
	runs := s.registry.List()
	if runs == nil {
		runs = []run.Status{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	st, err := s.registry.Status(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.Cancel(id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "cancelling": true})
}

// fail maps a registry error to a status code and writes it.
func (s *Server) fail(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case run.IsNotFound(err):
		status, code = http.StatusNotFound, string(run.KindNotFound)
	case errors.Is(err, registry.ErrClosed):
		status, code = http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.Canceled):
		status, code = 499, "cancelled"
	default:
		s.log.Error().Err(err).Str("path", routePath(c)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
