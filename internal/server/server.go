// Package server exposes the HTTP trigger surface: POST /solve starts a
// chain, GET /jobs reports on it. Chains run detached from the request;
// the response only acknowledges acceptance.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"quizagent/internal/config"
	"quizagent/internal/runner"
	"quizagent/internal/store"
)

// ChainRunner drives one quiz chain to completion.
type ChainRunner interface {
	Run(ctx context.Context, id, url, email, secret string, deadline time.Time) runner.ChainState
}

// JobStore reads back persisted chain state.
type JobStore interface {
	Get(ctx context.Context, id string) (*store.ChainRecord, error)
	List(ctx context.Context, limit int) ([]store.ChainRecord, error)
}

// Server is the HTTP trigger surface.
type Server struct {
	cfg     config.Config
	runner  ChainRunner
	jobs    JobStore
	logger  *zap.Logger
	active  *semaphore.Weighted
	engine  *gin.Engine
	started time.Time
}

// New builds the server and its routes.
func New(cfg config.Config, chainRunner ChainRunner, jobs JobStore, logger *zap.Logger) *Server {
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	maxActive := cfg.Server.MaxActiveChains
	if maxActive <= 0 {
		maxActive = 8
	}

	s := &Server{
		cfg:     cfg,
		runner:  chainRunner,
		jobs:    jobs,
		logger:  logger,
		active:  semaphore.NewWeighted(maxActive),
		started: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLog())

	corsCfg := cors.DefaultConfig()
	if len(cfg.Server.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", s.handleHealth)
	r.POST("/solve", s.handleSolve)
	r.GET("/jobs", s.handleListJobs)
	r.GET("/jobs/:id", s.handleGetJob)

	s.engine = r
	return s
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("listening", zap.String("addr", s.cfg.Server.Addr))
	return s.engine.Run(s.cfg.Server.Addr)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// solveRequest is the trigger payload. All three fields are required
// strings; the secret check happens before any chain work starts.
type solveRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

func (s *Server) handleSolve(c *gin.Context) {
	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	req, err := decodeSolveRequest(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Email != s.cfg.Auth.Email || req.Secret != s.cfg.Auth.Secret {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid credentials"})
		return
	}

	if !s.active.TryAcquire(1) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many active chains"})
		return
	}

	id := uuid.NewString()
	deadline := s.cfg.Chain.Deadline(time.Now())

	go func() {
		defer s.active.Release(1)
		// The chain outlives the HTTP request. Grace beyond the chain
		// deadline covers the final submission round trip.
		ctx, cancel := context.WithDeadline(context.Background(), deadline.Add(30*time.Second))
		defer cancel()
		state := s.runner.Run(ctx, id, req.URL, req.Email, req.Secret, deadline)
		s.logger.Info("chain finished",
			zap.String("id", id),
			zap.String("status", string(state.Status)),
			zap.Int("steps", state.Steps))
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status": "accepted",
		"job_id": id,
	})
}

// decodeSolveRequest validates field presence and type explicitly so a
// numeric secret or missing url is rejected up front, not deep in a chain.
func decodeSolveRequest(raw map[string]interface{}) (solveRequest, error) {
	var req solveRequest
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"email", &req.Email},
		{"secret", &req.Secret},
		{"url", &req.URL},
	} {
		v, ok := raw[f.name]
		if !ok {
			return req, errors.New("missing field " + f.name)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return req, errors.New("field " + f.name + " must be a non-empty string")
		}
		*f.dst = s
	}
	return req, nil
}

func (s *Server) handleGetJob(c *gin.Context) {
	rec, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		s.logger.Error("job lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListJobs(c *gin.Context) {
	recs, err := s.jobs.List(c.Request.Context(), 100)
	if err != nil {
		s.logger.Error("job list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": recs})
}
