package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"ffbatch/config"
	"ffbatch/store"
	"ffbatch/task"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// HistoryReader is the read side of the persisted batch history.
type HistoryReader interface {
	Batches(ctx context.Context, limit int) ([]store.BatchRecord, error)
	Batch(ctx context.Context, id string) (*store.BatchRecord, error)
	Events(ctx context.Context, batchID string) ([]store.EventRecord, error)
}

type Handler struct {
	manager  *task.Manager
	history  HistoryReader
	cfg      *config.Config
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(m *task.Manager, history HistoryReader, cfg *config.Config, logger hclog.Logger) *Handler {
	return &Handler{
		manager: m,
		history: history,
		cfg:     cfg,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // auth is enforced by middleware, not origin
			},
		},
	}
}

type BatchRequest struct {
	Files     []string `json:"files" form:"files"`
	Format    string   `json:"format" form:"format"`
	OutputDir string   `json:"outputDir" form:"outputDir"`
}

// handleCreateBatch validates and starts a batch.
func (h *Handler) handleCreateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.manager.Submit(req.Files, req.Format, req.OutputDir)
	if err != nil {
		var verr *task.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		case errors.Is(err, task.ErrBatchActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create batch", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"batchId": run.ID})
}

func (h *Handler) handleListBatches(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.List())
}

func (h *Handler) handleGetBatch(c *gin.Context) {
	run, ok := h.manager.Get(c.Param("batchId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}
	c.JSON(http.StatusOK, run.Info())
}

func (h *Handler) handlePauseBatch(c *gin.Context) {
	h.setPaused(c, true)
}

func (h *Handler) handleResumeBatch(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *Handler) setPaused(c *gin.Context, paused bool) {
	id := c.Param("batchId")
	var err error
	if paused {
		err = h.manager.Pause(id)
	} else {
		err = h.manager.Resume(id)
	}
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batchId": id, "paused": paused})
}

// handleCancelBatch blocks until the batch has drained.
func (h *Handler) handleCancelBatch(c *gin.Context) {
	id := c.Param("batchId")
	if err := h.manager.Cancel(c.Request.Context(), id); err != nil {
		h.writeLookupError(c, err)
		return
	}
	run, ok := h.manager.Get(id)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"message": "Batch cancelled"})
		return
	}
	c.JSON(http.StatusOK, run.Info())
}

// handleListEvents returns the batch's events after the optional since cursor.
func (h *Handler) handleListEvents(c *gin.Context) {
	id := c.Param("batchId")
	since, err := sinceParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.manager.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	events := h.manager.Events().BatchSince(id, since)
	if events == nil {
		events = []task.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) handleListFormats(c *gin.Context) {
	c.JSON(http.StatusOK, task.SupportedFormats)
}

func (h *Handler) handleListHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	batches, err := h.history.Batches(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to read history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (h *Handler) handleHistoryBatch(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History is disabled"})
		return
	}
	rec, err := h.history.Batch(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		if !errors.Is(err, task.ErrBatchNotFound) {
			h.logger.Error("failed to read history batch", "error", err)
		}
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleHistoryEvents(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History is disabled"})
		return
	}
	events, err := h.history.Events(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		h.logger.Error("failed to read history events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history"})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrBatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "Gave up waiting for the batch to drain"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sinceParam(c *gin.Context) (int64, error) {
	raw := c.DefaultQuery("since", "0")
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, errors.New("since must be a non-negative integer")
	}
	return since, nil
}
