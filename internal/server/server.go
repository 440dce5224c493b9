// Package server exposes the pipeline and the run log over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
	"github.com/danielpatrickdp/text2sql/internal/runlog"
)

// #region deps

// Pipeline answers one request.
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.PipelineResult
}

// RunStore reads persisted runs.
type RunStore interface {
	List(ctx context.Context, limit int) ([]runlog.Run, error)
	Get(ctx context.Context, runID string) (runlog.Run, error)
	KindCounts(ctx context.Context, scopeID string) (map[errctx.ErrorKind]int, error)
}

// Deps are the collaborators behind the routes. Runs may be nil, in which
// case the run endpoints answer 503.
type Deps struct {
	Pipeline Pipeline
	Runs     RunStore
	Scopes   []string
	Logger   *slog.Logger
}

// #endregion deps

// #region request-types

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	ScopeID      string `json:"scope_id" binding:"required"`
	Question     string `json:"question" binding:"required"`
	Evidence     string `json:"evidence"`
	AttemptLimit int    `json:"attempt_limit"`
	Strategy     string `json:"strategy"`
}

// #endregion request-types

// #region router

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{deps: d}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.Logger))

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/query", h.query)
		v1.GET("/scopes", h.scopes)
		runs := v1.Group("/runs")
		{
			runs.GET("", h.listRuns)
			runs.GET("/:id", h.getRun)
		}
		v1.GET("/errors/kinds", h.kindCounts)
	}
	return router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("server: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// #endregion router

// #region handlers

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "scopes": len(h.deps.Scopes)})
}

func (h *handlers) scopes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scopes": h.deps.Scopes})
}

func (h *handlers) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	if !slices.Contains(h.deps.Scopes, req.ScopeID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown scope " + strconv.Quote(req.ScopeID)})
		return
	}
	var strategy retrieval.Strategy
	if req.Strategy != "" {
		st, err := retrieval.ParseStrategy(req.Strategy)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		strategy = st
	}
	if req.AttemptLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attempt_limit must not be negative"})
		return
	}

	res := h.deps.Pipeline.Run(c.Request.Context(), orchestrator.Request{
		ScopeID:      req.ScopeID,
		Question:     req.Question,
		Evidence:     req.Evidence,
		AttemptLimit: req.AttemptLimit,
		Strategy:     strategy,
	})
	c.JSON(http.StatusOK, res)
}

func (h *handlers) listRuns(c *gin.Context) {
	if h.deps.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log disabled"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.deps.Runs.List(c.Request.Context(), limit)
	if err != nil {
		h.deps.Logger.Error("server: list runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}
	if runs == nil {
		runs = []runlog.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handlers) getRun(c *gin.Context) {
	if h.deps.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log disabled"})
		return
	}
	run, err := h.deps.Runs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, runlog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.deps.Logger.Error("server: get run failed", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get run failed"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *handlers) kindCounts(c *gin.Context) {
	if h.deps.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log disabled"})
		return
	}
	counts, err := h.deps.Runs.KindCounts(c.Request.Context(), c.Query("scope"))
	if err != nil {
		h.deps.Logger.Error("server: kind counts failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "kind counts failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scope": c.Query("scope"), "kinds": counts})
}

// #endregion handlers

// #region serve

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// with a bounded grace period.
func Serve(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// #endregion serve
