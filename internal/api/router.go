// Package api exposes the sync engine over HTTP: job submission, status,
// history, cancellation and a server-sent events progress stream.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the sync routes onto a gin engine.
func NewRouter(h *SyncHandler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	sync := r.Group("/api/sync")
	{
		sync.POST("/start", h.Start)
		sync.POST("/platform/:platform", h.StartPlatform)
		sync.GET("/status/:jobId", h.Status)
		sync.GET("/history", h.History)
		sync.DELETE("/:jobId", h.Cancel)
		sync.GET("/events/:jobId", h.Events)
	}
	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
