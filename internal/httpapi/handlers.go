package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/engine"
	"github.com/danielpatrickdp/decision-dialogue/internal/interaction"
	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/retrain"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
	"github.com/danielpatrickdp/decision-dialogue/internal/transport"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// #region types

// Engine is the part of the decision engine the HTTP API exposes.
type Engine interface {
	DecideRecord(ctx context.Context, c schema.Context) (interaction.Record, error)
	Stats() engine.Stats
	Codec() *schema.Codec
	ExportLog() []interaction.Record
	TruncateLog(keep int) int
	Retrain(ctx context.Context) retrain.Outcome
}

// DecideRequest is the body of POST /v1/decide.
type DecideRequest struct {
	Context map[string]any `json:"context" binding:"required"`
}

// DecideResponse is the body returned by POST /v1/decide.
type DecideResponse struct {
	Action string `json:"action"`
	Source string `json:"source"`
	Seq    uint64 `json:"seq"`
	ID     string `json:"id"`
}

// RetrainResponse is the body returned by POST /v1/retrain.
type RetrainResponse struct {
	Cycle      uint64 `json:"cycle"`
	Manual     bool   `json:"manual"`
	Status     string `json:"status"`
	Samples    int    `json:"samples"`
	Version    string `json:"version,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// ErrorResponse is returned on every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// #endregion types

// #region handlers

// Handlers serves the engine over HTTP.
type Handlers struct {
	engine  Engine
	metrics http.Handler
	logger  *zap.Logger
}

// NewHandlers wraps e. metrics may be nil, in which case /metrics is not routed.
func NewHandlers(e Engine, metrics http.Handler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{engine: e, metrics: metrics, logger: logger.Named("http")}
}

// HandleStatus handles GET /v1/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, transport.StatusMap(h.engine.Stats()))
}

// HandleDecide handles POST /v1/decide.
func (h *Handlers) HandleDecide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	ctx := h.engine.Codec().Schema().Coerce(req.Context)
	rec, err := h.engine.DecideRecord(c.Request.Context(), ctx)
	if err != nil {
		status, code := statusOf(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("decide", zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, DecideResponse{
		Action: string(rec.Action),
		Source: string(rec.Source),
		Seq:    rec.Seq,
		ID:     rec.ID,
	})
}

// HandleLog handles GET /v1/log. The log is served as CSV; ?last=N limits
// it to the most recent N records.
func (h *Handlers) HandleLog(c *gin.Context) {
	records := h.engine.ExportLog()
	if raw := c.Query("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "last must be a non-negative integer", Code: "INVALID_QUERY"})
			return
		}
		if n < len(records) {
			records = records[len(records)-n:]
		}
	}
	var buf bytes.Buffer
	if err := interaction.WriteCSV(&buf, h.engine.Codec().Schema(), records); err != nil {
		h.logger.Error("export log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "EXPORT_FAILED"})
		return
	}
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// HandleTruncateLog handles DELETE /v1/log?keep=N, dropping all but the
// newest N records.
func (h *Handlers) HandleTruncateLog(c *gin.Context) {
	keep, err := strconv.Atoi(c.Query("keep"))
	if err != nil || keep < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "keep must be a non-negative integer", Code: "INVALID_QUERY"})
		return
	}
	dropped := h.engine.TruncateLog(keep)
	c.JSON(http.StatusOK, gin.H{"dropped": dropped, "log_size": h.engine.Stats().LogSize})
}

// HandleRetrain handles POST /v1/retrain, running a cycle outside the
// interval schedule.
func (h *Handlers) HandleRetrain(c *gin.Context) {
	out := h.engine.Retrain(c.Request.Context())
	resp := RetrainResponse{
		Cycle:      out.Cycle,
		Manual:     out.Manual,
		Status:     string(out.Status),
		Samples:    out.Samples,
		Reason:     out.Gate.Reason,
		DurationMS: out.Duration.Milliseconds(),
	}
	if out.Model != nil {
		resp.Version = out.Model.VersionID
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	status := http.StatusOK
	if !out.Published() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrSchemaMismatch):
		return http.StatusBadRequest, "SCHEMA_MISMATCH"
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable, "NOT_READY"
	case errors.Is(err, policy.ErrPolicyNotTrained):
		return http.StatusServiceUnavailable, "NOT_TRAINED"
	default:
		return http.StatusInternalServerError, "DECIDE_FAILED"
	}
}

// #endregion handlers

// #region routes

// RegisterRoutes registers the /v1 endpoints on rg.
//
//	GET  /v1/status  - engine state and counters
//	POST /v1/decide  - decide for a context
//	GET  /v1/log     - interaction log as CSV
//	DELETE /v1/log   - keep only the newest ?keep=N records
//	POST /v1/retrain - run a retrain cycle now
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/status", h.HandleStatus)
	rg.POST("/decide", h.HandleDecide)
	rg.GET("/log", h.HandleLog)
	rg.DELETE("/log", h.HandleTruncateLog)
	rg.POST("/retrain", h.HandleRetrain)
}

// NewRouter builds the full gin engine: request logging, recovery, /v1 and
// /metrics.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	RegisterRoutes(r.Group("/v1"), h)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// #endregion routes
