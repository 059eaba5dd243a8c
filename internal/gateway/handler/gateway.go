// Package handler provides HTTP handlers for the query gateway.
package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/ragway/internal/gateway/biz"
	"github.com/kart-io/ragway/internal/gateway/cache"
	"github.com/kart-io/ragway/internal/gateway/metrics"
	"github.com/kart-io/ragway/internal/gateway/worker"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/internal/pkg/httputils"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
)

// maxQueryLen 查询文本的最大长度（字节）。
const maxQueryLen = 8192

// QueryService 编排服务的查询入口。
type QueryService interface {
	Query(ctx context.Context, raw, scope string, opts *biz.QueryOptions) (*model.QueryResult, error)
	QueryStream(ctx context.Context, raw, scope string, opts *biz.QueryOptions, fn llm.StreamFunc) (*model.QueryResult, error)
}

// GatewayHandler handles gateway HTTP requests.
type GatewayHandler struct {
	service  QueryService
	registry *worker.Registry
	cache    *cache.TieredCache
	timeout  time.Duration
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(service QueryService, registry *worker.Registry, tiered *cache.TieredCache, timeout time.Duration) *GatewayHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GatewayHandler{
		service:  service,
		registry: registry,
		cache:    tiered,
		timeout:  timeout,
	}
}

// QueryRequest represents a query request.
type QueryRequest struct {
	QueryText string        `json:"query_text" binding:"required"`
	SessionID string        `json:"session_id"`
	Options   *QueryOptions `json:"options"`
}

// QueryOptions 请求级可选参数。
type QueryOptions struct {
	TopK    int  `json:"top_k"`
	NoCache bool `json:"no_cache"`
}

func (h *GatewayHandler) bind(c *gin.Context) (*QueryRequest, bool) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputils.WriteResponse(c, errors.ErrEmptyQuery.WithMessage(err.Error()), nil)
		return nil, false
	}
	if len(req.QueryText) > maxQueryLen {
		httputils.WriteResponse(c, errors.ErrQueryTooLong, nil)
		return nil, false
	}
	return &req, true
}

func (req *QueryRequest) bizOptions() *biz.QueryOptions {
	if req.Options == nil {
		return nil
	}
	return &biz.QueryOptions{
		TopK:    req.Options.TopK,
		NoCache: req.Options.NoCache,
	}
}

// Query performs a synchronous gateway query.
func (h *GatewayHandler) Query(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	result, err := h.service.Query(ctx, req.QueryText, req.SessionID, req.bizOptions())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			metrics.Get().RecordTimeout()
			err = errors.ErrGenerationTimeout.WithCause(err)
		}
		httputils.WriteResponse(c, err, nil)
		return
	}
	httputils.WriteResponse(c, nil, result)
}

// QueryStream performs a gateway query with an SSE token stream.
// 事件序列：message* → result → done，错误以 error 事件结束。
func (h *GatewayHandler) QueryStream(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	metrics.Get().StreamStarted()
	defer metrics.Get().StreamFinished()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	result, err := h.service.QueryStream(ctx, req.QueryText, req.SessionID, req.bizOptions(), func(chunk llm.StreamChunk) error {
		if chunk.Content != "" {
			c.SSEvent("message", gin.H{"content": chunk.Content})
			c.Writer.Flush()
		}
		return nil
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			metrics.Get().RecordTimeout()
			err = errors.ErrGenerationTimeout.WithCause(err)
		}
		errno := errors.FromError(err)
		c.SSEvent("error", gin.H{
			"code":      errno.Code,
			"message":   errno.Message("en"),
			"retryable": errors.Retryable(errno),
		})
		c.Writer.Flush()
		return
	}

	c.SSEvent("result", gin.H{
		"sources":      result.Sources,
		"fused_scores": result.FusedScores,
		"cache_hit":    result.CacheHit,
		"degraded":     result.Degraded,
		"worker_used":  result.WorkerUsed,
		"tier":         result.Tier,
	})
	c.SSEvent("done", "")
	c.Writer.Flush()
}

// Stats returns gateway runtime statistics.
func (h *GatewayHandler) Stats(c *gin.Context) {
	httputils.WriteResponse(c, nil, gin.H{
		"metrics": metrics.Get().Stats(),
		"cache":   h.cache.Stats(),
		"workers": h.registry.Snapshot(),
	})
}

// Workers returns the worker registry snapshot.
func (h *GatewayHandler) Workers(c *gin.Context) {
	httputils.WriteResponse(c, nil, h.registry.Snapshot())
}

// Worker returns a single worker's status by ID.
func (h *GatewayHandler) Worker(c *gin.Context) {
	w, ok := h.registry.Get(c.Param("id"))
	if !ok {
		httputils.WriteResponse(c, errors.ErrWorkerNotFound, nil)
		return
	}
	httputils.WriteResponse(c, nil, w.Snapshot(h.registry.Penalty()))
}

// InvalidateCache evicts a fingerprint from the inference and metadata tiers.
func (h *GatewayHandler) InvalidateCache(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	h.cache.Invalidate(c.Request.Context(), fingerprint)
	httputils.WriteResponse(c, nil, gin.H{"invalidated": fingerprint})
}

// Healthz reports gateway liveness and dependency health.
func (h *GatewayHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	c.JSON(200, gin.H{
		"status":          "ok",
		"healthy_workers": len(h.registry.Healthy("")),
		"total_workers":   h.registry.Len(),
		"cache_healthy":   h.cache.Healthy(ctx),
	})
}

// Metrics exposes metrics in Prometheus text format.
func (h *GatewayHandler) Metrics(c *gin.Context) {
	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(metrics.Get().Export("ragway", "gateway")))
}
