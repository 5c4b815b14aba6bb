package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

// WebSocketHandler streams status transitions for a single request until it
// reaches a terminal state. Clients connect to /ws/requests/:id and receive
// a JSON message for every observed status change.
type WebSocketHandler struct {
	store        RequestStore
	pollInterval time.Duration
}

func NewWebSocketHandler(store RequestStore) *WebSocketHandler {
	return &WebSocketHandler{
		store:        store,
		pollInterval: time.Second,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	requestID := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("request_id", requestID))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("request_id", requestID))
	}()

	if err := h.streamStatus(c, requestID); err != nil {
		logger.Error("Failed to stream request status",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.sendError(c, "Failed to stream request status")
	}
}

func (h *WebSocketHandler) streamStatus(c *websocket.Conn, requestID string) error {
	ctx := context.Background()

	var lastStatus models.RequestStatus
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		req, err := h.store.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}

		if req.Status != lastStatus {
			lastStatus = req.Status
			if err := h.sendStatus(c, req); err != nil {
				return err
			}
		}

		if req.Status.Terminal() {
			return nil
		}

		<-ticker.C
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, req *models.Request) error {
	msg := map[string]interface{}{
		"type":       "status",
		"request_id": req.ID,
		"status":     req.Status,
		"updated_at": req.UpdatedAt,
	}
	if req.Status == models.StatusFailed {
		msg["failure_stage"] = req.FailureStage
		msg["failure_reason"] = req.FailureReason
	}
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
