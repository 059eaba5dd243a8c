// Package router provides gateway service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/ragway/internal/gateway/handler"
)

// Register registers the gateway service routes.
func Register(engine *gin.Engine, h *handler.GatewayHandler) {
	v1 := engine.Group("/v1")
	{
		v1.POST("/query", h.Query)
		v1.POST("/query/stream", h.QueryStream)
		v1.GET("/stats", h.Stats)
		v1.GET("/workers", h.Workers)
		v1.GET("/workers/:id", h.Worker)
		v1.DELETE("/cache/:fingerprint", h.InvalidateCache)
	}

	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", h.Metrics)

	logger.Info("HTTP routes registered")
}
