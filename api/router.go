package api

import (
	"ffbatch/config"
	"ffbatch/task"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

func SetupRouter(m *task.Manager, history HistoryReader, cfg *config.Config, logger hclog.Logger) *gin.Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("api")

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))
	h := NewHandler(m, history, cfg, logger)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/formats", h.handleListFormats)

		v1.POST("/batches", h.handleCreateBatch)
		v1.GET("/batches", h.handleListBatches)
		v1.GET("/batches/:batchId", h.handleGetBatch)
		v1.PATCH("/batches/:batchId/pause", h.handlePauseBatch)
		v1.PATCH("/batches/:batchId/resume", h.handleResumeBatch)
		v1.PATCH("/batches/:batchId/cancel", h.handleCancelBatch)
		v1.GET("/batches/:batchId/events", h.handleListEvents)
		v1.GET("/batches/:batchId/ws", h.handleStreamEvents)

		v1.GET("/history", h.handleListHistory)
		v1.GET("/history/:batchId", h.handleHistoryBatch)
		v1.GET("/history/:batchId/events", h.handleHistoryEvents)
	}
	return r
}
