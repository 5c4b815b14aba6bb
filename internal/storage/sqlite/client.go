package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/retail-insights/backend/internal/storage/models"
	"github.com/retail-insights/backend/internal/transform"
	"github.com/retail-insights/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// DB exposes the underlying handle for the warehouse engine, which runs
// read-only analytical queries over cleaned_sales_data.
func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		query_type TEXT NOT NULL,
		inferred_type TEXT,
		date_range TEXT,
		filters TEXT,
		recipient TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_stage TEXT,
		failure_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_created ON requests(created_at);

	CREATE TABLE IF NOT EXISTS generated_queries (
		request_id TEXT NOT NULL,
		sql_text TEXT NOT NULL,
		validation_state TEXT NOT NULL,
		templated INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (request_id) REFERENCES requests(id)
	);
	CREATE INDEX IF NOT EXISTS idx_queries_request ON generated_queries(request_id);

	CREATE TABLE IF NOT EXISTS query_executions (
		execution_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		state TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		completed_at INTEGER,
		result_handle TEXT,
		bytes_scanned INTEGER DEFAULT 0,
		row_count INTEGER DEFAULT 0,
		error TEXT,
		FOREIGN KEY (request_id) REFERENCES requests(id)
	);
	CREATE INDEX IF NOT EXISTS idx_executions_request ON query_executions(request_id);

	CREATE TABLE IF NOT EXISTS insights (
		request_id TEXT PRIMARY KEY,
		execution_id TEXT,
		summary TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (request_id) REFERENCES requests(id)
	);

	CREATE TABLE IF NOT EXISTS cleaned_sales_data (
		transaction_id TEXT NOT NULL,
		date TEXT NOT NULL,
		customer_id TEXT,
		gender TEXT,
		age INTEGER,
		product_category TEXT NOT NULL,
		quantity INTEGER,
		price_per_unit REAL,
		total_amount REAL NOT NULL,
		revenue_category TEXT,
		quality_score REAL NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		day INTEGER NOT NULL,
		batch_id TEXT NOT NULL,
		UNIQUE(transaction_id, batch_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sales_partition ON cleaned_sales_data(year, month, day);
	CREATE INDEX IF NOT EXISTS idx_sales_category ON cleaned_sales_data(product_category);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) SaveRequest(ctx context.Context, req *models.Request) error {
	var dateRange, filters string
	if req.DateRange != nil {
		encoded, err := encodeJSON(req.DateRange)
		if err != nil {
			return err
		}
		dateRange = encoded
	}
	if len(req.Filters) > 0 {
		encoded, err := encodeJSON(req.Filters)
		if err != nil {
			return err
		}
		filters = encoded
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO requests (id, text, query_type, inferred_type, date_range, filters,
			recipient, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Text, string(req.QueryType), string(req.InferredType),
		dateRange, filters, req.Recipient, string(req.Status),
		req.CreatedAt.Unix(), req.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (c *Client) UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("request %s not found", requestID)
	}
	return nil
}

func (c *Client) MarkRequestFailed(ctx context.Context, requestID, stage, reason string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, failure_stage = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(models.StatusFailed), stage, reason, time.Now().Unix(), requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark request failed: %w", err)
	}
	return nil
}

func (c *Client) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, text, query_type, inferred_type, date_range, filters, recipient,
			status, failure_stage, failure_reason, created_at, updated_at
		FROM requests WHERE id = ?`, requestID)

	var req models.Request
	var queryType, inferredType, status string
	var dateRange, filters, failureStage, failureReason sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&req.ID, &req.Text, &queryType, &inferredType, &dateRange,
		&filters, &req.Recipient, &status, &failureStage, &failureReason,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	req.QueryType = models.QueryType(queryType)
	req.InferredType = models.QueryType(inferredType)
	req.Status = models.RequestStatus(status)
	req.FailureStage = failureStage.String
	req.FailureReason = failureReason.String
	req.CreatedAt = time.Unix(createdAt, 0).UTC()
	req.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if dateRange.String != "" {
		if err := json.Unmarshal([]byte(dateRange.String), &req.DateRange); err != nil {
			return nil, fmt.Errorf("failed to decode date range: %w", err)
		}
	}
	if filters.String != "" {
		if err := json.Unmarshal([]byte(filters.String), &req.Filters); err != nil {
			return nil, fmt.Errorf("failed to decode filters: %w", err)
		}
	}

	return &req, nil
}

func (c *Client) SaveGeneratedQuery(ctx context.Context, q *models.GeneratedQuery) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO generated_queries (request_id, sql_text, validation_state, templated, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		q.RequestID, q.SQLText, string(q.ValidationState), boolToInt(q.Templated), q.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert generated query: %w", err)
	}
	return nil
}

// RecordExecution upserts one attempt's execution record; the executor
// calls it on every state change.
func (c *Client) RecordExecution(ctx context.Context, exec *models.QueryExecution) error {
	var completedAt interface{}
	if exec.CompletedAt != nil {
		completedAt = exec.CompletedAt.Unix()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO query_executions (execution_id, request_id, attempt, state,
			submitted_at, completed_at, result_handle, bytes_scanned, row_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			state = excluded.state,
			completed_at = excluded.completed_at,
			result_handle = excluded.result_handle,
			bytes_scanned = excluded.bytes_scanned,
			row_count = excluded.row_count,
			error = excluded.error`,
		exec.ExecutionID, exec.RequestID, exec.Attempt, string(exec.State),
		exec.SubmittedAt.Unix(), completedAt, exec.ResultHandle,
		exec.BytesScanned, exec.RowCount, exec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

func (c *Client) SaveInsight(ctx context.Context, insight *models.Insight) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO insights (request_id, execution_id, summary, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			execution_id = excluded.execution_id,
			summary = excluded.summary,
			created_at = excluded.created_at`,
		insight.RequestID, insight.ExecutionID, insight.Summary, insight.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert insight: %w", err)
	}
	return nil
}

func (c *Client) GetInsight(ctx context.Context, requestID string) (*models.Insight, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT request_id, execution_id, summary, created_at FROM insights WHERE request_id = ?`,
		requestID)

	var insight models.Insight
	var createdAt int64
	err := row.Scan(&insight.RequestID, &insight.ExecutionID, &insight.Summary, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("insight for request %s not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load insight: %w", err)
	}
	insight.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &insight, nil
}

// LoadDelta appends a transform delta to the warehouse table inside one
// transaction. The batch id scopes the dedup constraint to one ingestion
// batch, so reloading an identical batch is a conflict, not a duplicate.
func (c *Client) LoadDelta(ctx context.Context, batchID string, delta *transform.Delta) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin warehouse load: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cleaned_sales_data (transaction_id, date, customer_id, gender, age,
			product_category, quantity, price_per_unit, total_amount, revenue_category,
			quality_score, year, month, day, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare warehouse insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range delta.Records {
		_, err := stmt.ExecContext(ctx,
			rec.TransactionID, rec.Date.Format("2006-01-02"), rec.CustomerID,
			rec.Gender, rec.Age, rec.ProductCategory, rec.Quantity,
			rec.PricePerUnit, rec.TotalAmount, rec.RevenueCategory,
			rec.QualityScore, rec.Partition.Year, rec.Partition.Month,
			rec.Partition.Day, batchID,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %s: %w", rec.TransactionID, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit warehouse load: %w", err)
	}

	logger.Info("Warehouse delta loaded",
		zap.String("batch_id", batchID),
		zap.Int("records", inserted),
	)
	return inserted, nil
}

func encodeJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode field: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
