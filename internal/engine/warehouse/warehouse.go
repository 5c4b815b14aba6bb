// Package warehouse implements the analytical engine contract on top of
// the SQLite warehouse that holds the partitioned sales dataset. Queries
// run asynchronously under a concurrency cap; results are kept in memory
// per execution and written to the configured output location.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/engine"
	"github.com/retail-insights/backend/pkg/logger"
)

const (
	pageSize = 100

	// Terminal executions are evicted from the registry after this long;
	// the CSV result file on disk outlives the in-memory entry.
	retainFor     = 15 * time.Minute
	sweepInterval = time.Minute
)

type execution struct {
	id           string
	state        engine.Status
	errMsg       string
	rows         []engine.Row
	rowCount     int
	columns      []string
	bytesScanned int64
	resultPath   string
	cancel       context.CancelFunc
	startedAt    time.Time
	doneAt       time.Time
}

type Engine struct {
	db        *sql.DB
	database  string
	outputDir string
	sem       chan struct{}
	stop      chan struct{}
	once      sync.Once

	mu    sync.RWMutex
	execs map[string]*execution
}

func New(db *sql.DB, database, outputDir string, maxConcurrent int) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	e := &Engine{
		db:        db,
		database:  database,
		outputDir: outputDir,
		sem:       make(chan struct{}, maxConcurrent),
		stop:      make(chan struct{}),
		execs:     make(map[string]*execution),
	}
	go e.janitor()
	return e
}

func (e *Engine) Close() {
	e.once.Do(func() { close(e.stop) })
}

func (e *Engine) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

// sweep evicts terminal executions whose retention window has passed.
func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, exec := range e.execs {
		if exec.state.Terminal() && now.Sub(exec.doneAt) > retainFor {
			delete(e.execs, id)
		}
	}
}

// Submit registers the query and starts it in the background. The
// returned execution id is immediately pollable.
func (e *Engine) Submit(ctx context.Context, in engine.SubmitInput) (string, error) {
	if in.SQL == "" {
		return "", fmt.Errorf("empty query")
	}
	if in.Database != "" && in.Database != e.database {
		return "", fmt.Errorf("unknown database %q", in.Database)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	exec := &execution{
		id:        uuid.New().String(),
		state:     engine.StatusSubmitted,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	e.mu.Lock()
	e.execs[exec.id] = exec
	e.mu.Unlock()

	go e.run(runCtx, exec, in)

	logger.Debug("Warehouse query submitted", zap.String("execution_id", exec.id))

	return exec.id, nil
}

func (e *Engine) run(ctx context.Context, exec *execution, in engine.SubmitInput) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		e.finish(exec, engine.StatusCancelled, "cancelled while queued")
		return
	}

	e.setState(exec, engine.StatusRunning)

	rows, err := e.db.QueryContext(ctx, in.SQL)
	if err != nil {
		if ctx.Err() != nil {
			e.finish(exec, engine.StatusCancelled, "cancelled")
			return
		}
		e.finish(exec, engine.StatusFailed, err.Error())
		return
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		e.finish(exec, engine.StatusFailed, err.Error())
		return
	}

	var collected []engine.Row
	var scanned int64
	values := make([]sql.NullString, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			e.finish(exec, engine.StatusFailed, err.Error())
			return
		}
		row := make(engine.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i].String
			scanned += int64(len(values[i].String))
		}
		collected = append(collected, row)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			e.finish(exec, engine.StatusCancelled, "cancelled")
			return
		}
		e.finish(exec, engine.StatusFailed, err.Error())
		return
	}

	resultPath := e.writeResults(exec.id, in.OutputLocation, columns, collected)

	e.mu.Lock()
	if exec.state.Terminal() {
		e.mu.Unlock()
		return
	}
	exec.rows = collected
	exec.rowCount = len(collected)
	exec.columns = columns
	exec.bytesScanned = scanned
	exec.resultPath = resultPath
	exec.state = engine.StatusSucceeded
	exec.doneAt = time.Now()
	e.mu.Unlock()

	logger.Debug("Warehouse query succeeded",
		zap.String("execution_id", exec.id),
		zap.Int("rows", len(collected)),
		zap.Int64("bytes_scanned", scanned),
		zap.Duration("elapsed", time.Since(exec.startedAt)),
	)
}

// writeResults persists rows as CSV under the output location. Failures
// here degrade to an empty result handle, they do not fail the query.
func (e *Engine) writeResults(id, outputLocation string, columns []string, rows []engine.Row) string {
	dir := outputLocation
	if dir == "" {
		dir = e.outputDir
	}
	if dir == "" {
		return ""
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn("Failed to create result directory", zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, id+".csv")
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("Failed to write query results", zap.Error(err))
		return ""
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write(columns)
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, col := range columns {
			line[i] = row[col]
		}
		w.Write(line)
	}
	w.Flush()
	return path
}

func (e *Engine) Status(ctx context.Context, executionID string) (engine.StatusInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	exec, ok := e.execs[executionID]
	if !ok {
		return engine.StatusInfo{}, engine.ErrExecutionNotFound
	}
	return engine.StatusInfo{State: exec.state, Error: exec.errMsg}, nil
}

// Results pages through a completed execution's rows. The page token is
// the row offset of the next page. Once the last page has been served the
// in-memory rows are released; later reads fall back to the CSV on disk.
func (e *Engine) Results(ctx context.Context, executionID, pageToken string) (*engine.ResultsPage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.execs[executionID]
	if !ok {
		return nil, engine.ErrExecutionNotFound
	}
	if exec.state != engine.StatusSucceeded {
		return nil, fmt.Errorf("execution %s is %s, results unavailable", executionID, exec.state)
	}

	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}
	if offset > len(exec.rows) {
		offset = len(exec.rows)
	}

	end := offset + pageSize
	if end > len(exec.rows) {
		end = len(exec.rows)
	}

	page := &engine.ResultsPage{
		Rows: exec.rows[offset:end],
		Stats: engine.ResultStats{
			BytesScanned: exec.bytesScanned,
			RowCount:     exec.rowCount,
		},
	}
	if end < len(exec.rows) {
		page.NextToken = strconv.Itoa(end)
	} else {
		exec.rows = nil
	}
	return page, nil
}

// Cancel stops a running execution. Cancelling a terminal execution is a
// no-op acknowledgement.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.execs[executionID]
	if !ok {
		return engine.ErrExecutionNotFound
	}
	if exec.state.Terminal() {
		return nil
	}
	exec.cancel()
	exec.state = engine.StatusCancelled
	exec.errMsg = "cancelled by caller"
	exec.doneAt = time.Now()
	logger.Info("Warehouse query cancelled", zap.String("execution_id", executionID))
	return nil
}

// ResultHandle exposes the CSV path written for a succeeded execution.
func (e *Engine) ResultHandle(executionID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if exec, ok := e.execs[executionID]; ok {
		return exec.resultPath
	}
	return ""
}

func (e *Engine) setState(exec *execution, s engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec.state.Terminal() {
		return
	}
	exec.state = s
}

func (e *Engine) finish(exec *execution, s engine.Status, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec.state.Terminal() {
		return
	}
	exec.state = s
	exec.errMsg = msg
	exec.doneAt = time.Now()
}
