package api

import (
	"net/http"
	"time"

	"ffbatch/task"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// handleStreamEvents pushes a batch's events over a WebSocket as they are
// appended. The connection is closed after the terminal event.
func (h *Handler) handleStreamEvents(c *gin.Context) {
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

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "batch_id", id, "error", err)
		return
	}
	defer conn.Close()

	// The client never sends anything useful; reading only detects hangups.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.manager.Events()
	for {
		// Grab the wakeup channel before reading so no append is missed.
		changed := log.Changed()
		for _, event := range log.BatchSince(id, since) {
			since = event.Seq
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed", "batch_id", id, "error", err)
				return
			}
			if event.Kind == task.EventBatchDone {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "batch done")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		}

		select {
		case <-changed:
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
