// Package executor runs accepted queries against the analytical engine:
// submit, poll to a terminal state under a wall-clock deadline, classify
// failures, and fetch bounded results.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/engine"
	"github.com/retail-insights/backend/internal/fault"
	"github.com/retail-insights/backend/internal/metrics"
	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/pkg/logger"
)

type Config struct {
	Database       string
	OutputLocation string
	PollInterval   time.Duration
	Deadline       time.Duration
	MaxAttempts    int
	MaxResultRows  int
	MaxResultBytes int
	PollWorkers    int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		Deadline:       5 * time.Minute,
		MaxAttempts:    3,
		MaxResultRows:  1000,
		MaxResultBytes: 262144,
		PollWorkers:    4,
	}
}

// Recorder persists each execution attempt. A nil recorder is valid.
type Recorder interface {
	RecordExecution(ctx context.Context, exec *models.QueryExecution) error
}

// Result is the bounded, possibly truncated result set handed downstream.
type Result struct {
	Rows         []engine.Row
	BytesScanned int64
	RowCount     int
	Truncated    bool
}

type Executor struct {
	eng      engine.QueryEngine
	cfg      Config
	recorder Recorder
	poller   *poller
	now      func() time.Time
}

func New(eng engine.QueryEngine, cfg Config, recorder Recorder) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 5 * time.Minute
	}
	return &Executor{
		eng:      eng,
		cfg:      cfg,
		recorder: recorder,
		poller:   newPoller(eng, cfg.PollInterval, cfg.PollWorkers),
		now:      time.Now,
	}
}

func (x *Executor) Close() {
	x.poller.Stop()
}

// Execute runs the query to a terminal state. Transient engine failures
// start a fresh QueryExecution attempt; fatal classifications surface
// immediately. The returned execution record is the final attempt.
func (x *Executor) Execute(ctx context.Context, q *models.GeneratedQuery) (*models.QueryExecution, *Result, error) {
	if q.ValidationState != models.ValidationAccepted {
		return nil, nil, fault.Newf(fault.StageExecution, fault.KindValidation,
			"refusing to submit query in validation state %s", q.ValidationState)
	}

	var lastExec *models.QueryExecution
	var lastErr error

	for attempt := 1; attempt <= x.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return lastExec, nil, ctx.Err()
			case <-time.After(delay):
			}
			logger.Info("Retrying query execution",
				zap.String("request_id", q.RequestID),
				zap.Int("attempt", attempt),
			)
		}

		exec, result, err := x.attempt(ctx, q, attempt)
		lastExec = exec
		if err == nil {
			return exec, result, nil
		}
		lastErr = err
		if !fault.IsTransient(err) {
			return exec, nil, err
		}
	}

	return lastExec, nil, lastErr
}

func (x *Executor) attempt(ctx context.Context, q *models.GeneratedQuery, attempt int) (*models.QueryExecution, *Result, error) {
	submittedAt := x.now().UTC()

	execID, err := x.eng.Submit(ctx, engine.SubmitInput{
		SQL:            q.SQLText,
		Database:       x.cfg.Database,
		OutputLocation: x.cfg.OutputLocation,
	})

	exec := &models.QueryExecution{
		ExecutionID: execID,
		RequestID:   q.RequestID,
		Attempt:     attempt,
		State:       models.ExecSubmitted,
		SubmittedAt: submittedAt,
	}

	if err != nil {
		kind := classifyEngineError(err.Error())
		exec.State = models.ExecFailed
		exec.Error = err.Error()
		x.record(ctx, exec)
		return exec, nil, fault.New(fault.StageExecution, kind, fmt.Errorf("submit: %w", err))
	}
	x.record(ctx, exec)

	logger.Info("Query submitted",
		zap.String("request_id", q.RequestID),
		zap.String("execution_id", execID),
		zap.Int("attempt", attempt),
	)

	deadline := submittedAt.Add(x.cfg.Deadline)
	done := x.poller.watch(execID, deadline)

	var outcome pollOutcome
	select {
	case <-ctx.Done():
		x.poller.unwatch(execID)
		x.eng.Cancel(context.Background(), execID)
		x.terminal(ctx, exec, models.ExecCancelled, ctx.Err().Error())
		return exec, nil, ctx.Err()
	case outcome = <-done:
	}

	if outcome.timedOut {
		// Exactly one cancellation per deadline breach; the poller has
		// already stopped watching this execution.
		if err := x.eng.Cancel(context.Background(), execID); err != nil {
			logger.Warn("Cancel after deadline failed",
				zap.String("execution_id", execID),
				zap.Error(err),
			)
		}
		x.terminal(ctx, exec, models.ExecTimeout, "deadline exceeded")
		return exec, nil, fault.Newf(fault.StageExecution, fault.KindTimeout,
			"execution %s exceeded deadline of %s", execID, x.cfg.Deadline)
	}

	switch outcome.state {
	case engine.StatusSucceeded:
		result, err := x.fetchResults(ctx, execID)
		if err != nil {
			x.terminal(ctx, exec, models.ExecFailed, err.Error())
			return exec, nil, fault.New(fault.StageExecution, fault.KindTransient,
				fmt.Errorf("fetch results: %w", err))
		}
		exec.BytesScanned = result.BytesScanned
		exec.RowCount = result.RowCount
		if x.cfg.OutputLocation != "" {
			exec.ResultHandle = filepath.Join(x.cfg.OutputLocation, execID+".csv")
		}
		x.terminal(ctx, exec, models.ExecSucceeded, "")
		return exec, result, nil

	case engine.StatusCancelled:
		x.terminal(ctx, exec, models.ExecCancelled, outcome.errMsg)
		return exec, nil, fault.Newf(fault.StageExecution, fault.KindTransient,
			"execution %s was cancelled by the engine", execID)

	default: // FAILED
		kind := classifyEngineError(outcome.errMsg)
		x.terminal(ctx, exec, models.ExecFailed, outcome.errMsg)
		return exec, nil, fault.Newf(fault.StageExecution, kind,
			"execution %s failed: %s", execID, outcome.errMsg)
	}
}

func (x *Executor) fetchResults(ctx context.Context, execID string) (*Result, error) {
	result := &Result{}
	var bytes int
	token := ""

	for {
		page, err := x.eng.Results(ctx, execID, token)
		if err != nil {
			return nil, err
		}
		result.BytesScanned = page.Stats.BytesScanned
		result.RowCount = page.Stats.RowCount

		for _, row := range page.Rows {
			if len(result.Rows) >= x.cfg.MaxResultRows {
				result.Truncated = true
				return result, nil
			}
			for _, v := range row {
				bytes += len(v)
			}
			if bytes > x.cfg.MaxResultBytes {
				result.Truncated = true
				return result, nil
			}
			result.Rows = append(result.Rows, row)
		}

		if page.NextToken == "" {
			return result, nil
		}
		token = page.NextToken
	}
}

func (x *Executor) terminal(ctx context.Context, exec *models.QueryExecution, state models.ExecutionState, errMsg string) {
	now := x.now().UTC()
	exec.State = state
	exec.CompletedAt = &now
	exec.Error = errMsg
	x.record(ctx, exec)

	metrics.ExecutionsTotal.WithLabelValues(string(state)).Inc()
	if state == models.ExecSucceeded {
		metrics.BytesScanned.Observe(float64(exec.BytesScanned))
	}
}

func (x *Executor) record(ctx context.Context, exec *models.QueryExecution) {
	if x.recorder == nil {
		return
	}
	// Submit failures have no engine execution id; the table is keyed by
	// it, so rows from different requests would collide on "".
	if exec.ExecutionID == "" {
		return
	}
	if err := x.recorder.RecordExecution(ctx, exec); err != nil {
		logger.Warn("Failed to persist execution record",
			zap.String("execution_id", exec.ExecutionID),
			zap.Error(err),
		)
	}
}

func classifyEngineError(msg string) fault.Kind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "syntax"):
		return fault.KindSyntax
	case strings.Contains(m, "permission"), strings.Contains(m, "access denied"),
		strings.Contains(m, "not authorized"):
		return fault.KindPermission
	default:
		return fault.KindTransient
	}
}
