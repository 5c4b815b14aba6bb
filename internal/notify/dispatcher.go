// Package notify delivers the terminal message for a request, exactly
// once per request and outcome type.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/metrics"
	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
	"github.com/retail-insights/backend/pkg/retry"
	"github.com/retail-insights/backend/pkg/utils"
)

// Sender is the notification transport contract. Send returns a delivery
// receipt id on success.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) (string, error)
}

// ResultStore persists delivery results under their idempotency key so a
// replayed dispatch returns the prior result instead of sending twice.
type ResultStore interface {
	Get(ctx context.Context, key string) (*models.DeliveryResult, bool, error)
	Put(ctx context.Context, key string, result *models.DeliveryResult) error
}

const (
	OutcomeInsight = "insight"
	OutcomeFailure = "failure"
)

type Dispatcher struct {
	sender      Sender
	store       ResultStore
	maxAttempts int
}

func NewDispatcher(sender Sender, store ResultStore, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{sender: sender, store: store, maxAttempts: maxAttempts}
}

// NotifyInsight delivers a successful insight to the request's recipient.
func (d *Dispatcher) NotifyInsight(ctx context.Context, req *models.Request, insight *models.Insight) (*models.DeliveryResult, error) {
	subject := fmt.Sprintf("Your insight is ready: %s", truncate(req.Text, 60))
	body := fmt.Sprintf("Request: %s\n\n%s\n", req.Text, insight.Summary)
	return d.dispatch(ctx, req, OutcomeInsight, subject, body)
}

// NotifyFailure delivers a failure report naming the failing stage and a
// human-readable reason.
func (d *Dispatcher) NotifyFailure(ctx context.Context, req *models.Request, report *models.FailureReport) (*models.DeliveryResult, error) {
	subject := fmt.Sprintf("Your insight request could not be completed: %s", truncate(req.Text, 60))
	body := fmt.Sprintf("Request: %s\n\nStage: %s\nError: %s\nReason: %s\n",
		req.Text, report.Stage, report.Kind, report.Reason)
	return d.dispatch(ctx, req, OutcomeFailure, subject, body)
}

func (d *Dispatcher) dispatch(ctx context.Context, req *models.Request, outcome, subject, body string) (*models.DeliveryResult, error) {
	key := utils.HashKey(req.ID, outcome)

	if prior, ok, err := d.store.Get(ctx, key); err != nil {
		logger.Warn("Idempotency lookup failed, proceeding with dispatch",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	} else if ok {
		logger.Info("Dispatch replay suppressed",
			zap.String("request_id", req.ID),
			zap.String("outcome", outcome),
		)
		return prior, nil
	}

	attempts := 0
	receipt, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  d.maxAttempts,
		InitialDelay: 200 * time.Millisecond,
		Logger:       logger.GetLogger(),
	}, func() (string, error) {
		attempts++
		return d.sender.Send(ctx, req.Recipient, subject, body)
	})
	if err != nil {
		return nil, fault.New(fault.StageNotify, fault.KindDelivery,
			fmt.Errorf("delivery to %s failed after %d attempts: %w", req.Recipient, attempts, err))
	}

	result := &models.DeliveryResult{
		RequestID:   req.ID,
		Outcome:     outcome,
		Recipient:   req.Recipient,
		ReceiptID:   receipt,
		Attempts:    attempts,
		DeliveredAt: time.Now().UTC(),
	}

	if err := d.store.Put(ctx, key, result); err != nil {
		logger.Warn("Failed to persist delivery result",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	metrics.NotificationsSent.WithLabelValues(outcome).Inc()

	logger.Info("Notification delivered",
		zap.String("request_id", req.ID),
		zap.String("outcome", outcome),
		zap.String("recipient", req.Recipient),
		zap.Int("attempts", attempts),
	)

	return result, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
