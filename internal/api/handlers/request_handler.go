package handlers

import (
	"context"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/sqlgen"
	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type RequestStore interface {
	SaveRequest(ctx context.Context, req *models.Request) error
	GetRequest(ctx context.Context, requestID string) (*models.Request, error)
	GetInsight(ctx context.Context, requestID string) (*models.Insight, error)
}

type Pipeline interface {
	Enqueue(req *models.Request) error
}

type RequestHandler struct {
	store    RequestStore
	pipeline Pipeline
}

func NewRequestHandler(store RequestStore, pipeline Pipeline) *RequestHandler {
	return &RequestHandler{store: store, pipeline: pipeline}
}

type intakeBody struct {
	UserRequest string            `json:"user_request"`
	QueryType   string            `json:"query_type"`
	DateRange   *models.DateRange `json:"date_range"`
	Filters     map[string]string `json:"filters"`
	Recipient   string            `json:"recipient_email"`
}

func (h *RequestHandler) SubmitRequest(c *fiber.Ctx) error {
	var body intakeBody
	if err := c.BodyParser(&body); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if body.UserRequest == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_request is required",
		})
	}
	queryType := models.QueryType(body.QueryType)
	if !queryType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid query_type",
		})
	}
	if !emailPattern.MatchString(body.Recipient) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "recipient_email is not a valid address",
		})
	}

	now := time.Now().UTC()
	req := &models.Request{
		ID:        uuid.New().String(),
		Text:      body.UserRequest,
		QueryType: queryType,
		DateRange: body.DateRange,
		Filters:   body.Filters,
		Recipient: body.Recipient,
		Status:    models.StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if queryType == models.QueryTypeCustom {
		req.InferredType = sqlgen.InferQueryType(body.UserRequest)
	}

	if err := h.store.SaveRequest(c.Context(), req); err != nil {
		logger.Error("Failed to save request", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save request",
		})
	}

	if err := h.pipeline.Enqueue(req); err != nil {
		logger.Warn("Request queue full", zap.String("request_id", req.ID))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Pipeline is at capacity, try again later",
		})
	}

	logger.Info("Request accepted",
		zap.String("request_id", req.ID),
		zap.String("query_type", string(req.QueryType)),
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"request_id": req.ID,
		"status":     req.Status,
	})
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	req, err := h.store.GetRequest(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Request not found",
		})
	}

	resp := fiber.Map{
		"request_id": req.ID,
		"query_type": req.QueryType,
		"status":     req.Status,
		"created_at": req.CreatedAt,
		"updated_at": req.UpdatedAt,
	}
	if req.Status == models.StatusFailed {
		resp["failure_stage"] = req.FailureStage
		resp["failure_reason"] = req.FailureReason
	}
	return c.JSON(resp)
}

func (h *RequestHandler) GetInsight(c *fiber.Ctx) error {
	insight, err := h.store.GetInsight(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Insight not available",
		})
	}
	return c.JSON(fiber.Map{
		"request_id":   insight.RequestID,
		"execution_id": insight.ExecutionID,
		"summary":      insight.Summary,
		"created_at":   insight.CreatedAt,
	})
}
