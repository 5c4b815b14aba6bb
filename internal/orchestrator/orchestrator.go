// Package orchestrator owns the request lifecycle: it sequences
// generate, execute, summarize, and notify for each request, moves
// Request.status, and applies the pipeline failure policy.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/executor"
	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/metrics"
	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

type Store interface {
	SaveRequest(ctx context.Context, req *models.Request) error
	UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error
	MarkRequestFailed(ctx context.Context, requestID, stage, reason string) error
	SaveGeneratedQuery(ctx context.Context, q *models.GeneratedQuery) error
	SaveInsight(ctx context.Context, insight *models.Insight) error
	GetRequest(ctx context.Context, requestID string) (*models.Request, error)
}

type Generator interface {
	Generate(ctx context.Context, req *models.Request) (*models.GeneratedQuery, error)
}

type Executor interface {
	Execute(ctx context.Context, q *models.GeneratedQuery) (*models.QueryExecution, *executor.Result, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, req *models.Request, exec *models.QueryExecution, result *executor.Result) (*models.Insight, error)
}

type Dispatcher interface {
	NotifyInsight(ctx context.Context, req *models.Request, insight *models.Insight) (*models.DeliveryResult, error)
	NotifyFailure(ctx context.Context, req *models.Request, report *models.FailureReport) (*models.DeliveryResult, error)
}

type Config struct {
	Workers   int
	QueueSize int
}

type Orchestrator struct {
	store      Store
	generator  Generator
	executor   Executor
	summarizer Summarizer
	dispatcher Dispatcher

	queue chan *models.Request
	wg    sync.WaitGroup
	once  sync.Once
}

func New(store Store, generator Generator, exec Executor, summarizer Summarizer, dispatcher Dispatcher, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	o := &Orchestrator{
		store:      store,
		generator:  generator,
		executor:   exec,
		summarizer: summarizer,
		dispatcher: dispatcher,
		queue:      make(chan *models.Request, cfg.QueueSize),
	}
	o.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go o.worker()
	}
	return o
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for req := range o.queue {
		o.Process(context.Background(), req)
	}
}

// Enqueue hands a received request to the worker pool. It fails fast
// when the queue is full instead of blocking intake.
func (o *Orchestrator) Enqueue(req *models.Request) error {
	select {
	case o.queue <- req:
		metrics.QueueDepth.Set(float64(len(o.queue)))
		return nil
	default:
		return fmt.Errorf("request queue is full")
	}
}

// Stop drains the queue and waits for in-flight requests to finish.
func (o *Orchestrator) Stop() {
	o.once.Do(func() { close(o.queue) })
	o.wg.Wait()
}

// Process runs one request through all stages in strict order. A fatal
// stage error aborts the rest and routes a FailureReport to the
// dispatcher. Exactly one terminal notification goes out per request.
func (o *Orchestrator) Process(ctx context.Context, req *models.Request) {
	started := time.Now()
	logger.Info("Processing request",
		zap.String("request_id", req.ID),
		zap.String("query_type", string(req.QueryType)),
	)

	query, err := o.generator.Generate(ctx, req)
	if query != nil {
		if saveErr := o.store.SaveGeneratedQuery(ctx, query); saveErr != nil {
			logger.Warn("Failed to persist generated query",
				zap.String("request_id", req.ID),
				zap.Error(saveErr),
			)
		}
	}
	if err != nil {
		o.fail(ctx, req, err)
		return
	}
	o.setStatus(ctx, req, models.StatusSQLGenerated)

	o.setStatus(ctx, req, models.StatusExecuting)
	exec, result, err := o.executor.Execute(ctx, query)
	if err != nil {
		o.fail(ctx, req, err)
		return
	}

	insight, err := o.summarizer.Summarize(ctx, req, exec, result)
	if err != nil {
		o.fail(ctx, req, err)
		return
	}
	if err := o.store.SaveInsight(ctx, insight); err != nil {
		logger.Warn("Failed to persist insight",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
	o.setStatus(ctx, req, models.StatusSummarized)

	if _, err := o.dispatcher.NotifyInsight(ctx, req, insight); err != nil {
		o.fail(ctx, req, err)
		return
	}
	o.setStatus(ctx, req, models.StatusDelivered)

	metrics.RequestsProcessed.WithLabelValues("delivered").Inc()
	metrics.PipelineDuration.WithLabelValues(string(req.QueryType)).Observe(time.Since(started).Seconds())

	logger.Info("Request delivered",
		zap.String("request_id", req.ID),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// fail records the failure and attempts exactly one FailureReport
// notification. Notification problems are logged, never raised past the
// pipeline boundary.
func (o *Orchestrator) fail(ctx context.Context, req *models.Request, cause error) {
	stage := fault.StageOf(cause)
	if stage == "" {
		stage = fault.StageExecution
	}
	kind := fault.KindOf(cause)
	reason := fault.Reason(cause)

	req.Status = models.StatusFailed
	req.FailureStage = string(stage)
	req.FailureReason = reason

	if err := o.store.MarkRequestFailed(ctx, req.ID, string(stage), reason); err != nil {
		logger.Error("Failed to persist request failure",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	metrics.RequestsProcessed.WithLabelValues("failed").Inc()
	metrics.StageFailures.WithLabelValues(string(stage), string(kind)).Inc()

	logger.Warn("Request failed",
		zap.String("request_id", req.ID),
		zap.String("stage", string(stage)),
		zap.String("kind", string(kind)),
		zap.String("reason", reason),
	)

	if stage == fault.StageNotify {
		// The transport already exhausted its retries on the success
		// path; a failure notice over the same transport cannot be the
		// terminal message. Report through logs and the request record.
		return
	}

	report := &models.FailureReport{
		RequestID: req.ID,
		Stage:     string(stage),
		Kind:      string(kind),
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := o.dispatcher.NotifyFailure(ctx, req, report); err != nil {
		logger.Error("Failure notification could not be delivered",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, req *models.Request, status models.RequestStatus) {
	req.Status = status
	if err := o.store.UpdateRequestStatus(ctx, req.ID, status); err != nil {
		logger.Warn("Failed to persist request status",
			zap.String("request_id", req.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
