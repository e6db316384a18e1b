// Package httpapi exposes the pipeline and the query engine over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"kgraph/backend/internal/metrics"
	"kgraph/backend/internal/pipeline"
	"kgraph/backend/internal/query"
	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// Options configures the router
type Options struct {
	Runner  pipeline.Runner
	Engine  *query.Engine
	Metrics *metrics.Collector

	// GraphBackend names the store in /health; Degraded marks a fallback
	// to the in-memory store.
	GraphBackend string
	Degraded     bool

	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
}

type handler struct {
	opts   Options
	logger *zap.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(opts Options) *gin.Engine {
	h := &handler{opts: opts, logger: logger.Named("http")}

	router := gin.New()
	router.Use(requestLogger(h.logger))
	router.Use(gin.Recovery())
	router.Use(corsPolicy(opts.AllowedOrigins))
	router.Use(otelgin.Middleware("kgraph-http"))
	if opts.Metrics != nil {
		router.Use(requestMetrics(opts.Metrics))
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	router.GET("/health", h.health)

	api := router.Group("/api")
	{
		api.POST("/users/:userId/texts", h.submitText)
		api.POST("/users/:userId/query", h.query)
		api.GET("/runs/:runId", h.getRun)
		api.POST("/runs/:runId/resume", h.resumeRun)
	}
	return router
}

func (h *handler) health(c *gin.Context) {
	status := "ok"
	if h.opts.Degraded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"graphBackend": h.opts.GraphBackend,
	})
}

type submitTextRequest struct {
	Text   string `json:"text" binding:"required"`
	TextID string `json:"textId"`
	Format string `json:"format"`
}

func (h *handler) submitText(c *gin.Context) {
	var req submitTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.runFailure(c, kgerrors.InvalidInput("http.submitText", err.Error()))
		return
	}

	summary, err := h.opts.Runner.Start(c.Request.Context(), pipeline.Request{
		UserID: c.Param("userId"),
		Text:   req.Text,
		TextID: req.TextID,
		Format: req.Format,
	})
	if err != nil {
		h.runFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handler) getRun(c *gin.Context) {
	run, err := h.opts.Runner.Get(c.Request.Context(), c.Param("runId"))
	if err != nil {
		if kgerrors.IsKind(err, kgerrors.KindNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		h.logger.Error("Failed to load run", zap.String("run_id", c.Param("runId")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *handler) resumeRun(c *gin.Context) {
	summary, err := h.opts.Runner.Resume(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.runFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type queryRequest struct {
	QueryType string          `json:"queryType" binding:"required"`
	Params    json.RawMessage `json:"params"`
}

// query answers 200 with a result carrying either data or an error; only an
// unreadable body is rejected.
func (h *handler) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "errorKind": kgerrors.KindInvalidInput})
		return
	}

	res := h.opts.Engine.ExecuteRaw(c.Request.Context(), c.Param("userId"), req.QueryType, req.Params)
	c.JSON(http.StatusOK, res)
}

// runFailure writes the failure description of a run that did not succeed
func (h *handler) runFailure(c *gin.Context, err error) {
	status := runStatus(err)
	body := gin.H{
		"error":     err.Error(),
		"errorKind": kgerrors.KindOf(err),
	}

	var runErr *pipeline.RunError
	if errors.As(err, &runErr) {
		body["runId"] = runErr.RunID
		body["status"] = runErr.Status
		body["step"] = runErr.Step
		body["error"] = runErr.Err.Error()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Pipeline request failed", zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Warn("Pipeline request rejected", zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func runStatus(err error) int {
	switch kgerrors.KindOf(err) {
	case kgerrors.KindInvalidInput:
		return http.StatusBadRequest
	case kgerrors.KindNotFound:
		return http.StatusNotFound
	case kgerrors.KindDuplicateID:
		return http.StatusConflict
	case kgerrors.KindEmptyExtraction, kgerrors.KindSchemaViolation:
		return http.StatusUnprocessableEntity
	case kgerrors.KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
