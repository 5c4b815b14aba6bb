// Package engine defines the contract around the external analytical
// query engine: asynchronous submit, status polling, paginated result
// retrieval, and cancellation.
package engine

import (
	"context"
	"errors"
)

type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var ErrExecutionNotFound = errors.New("execution not found")

type SubmitInput struct {
	SQL            string
	Database       string
	OutputLocation string
}

type StatusInfo struct {
	State Status
	// Error carries the engine's state change reason for FAILED runs.
	Error string
}

// Row is one result row keyed by column name, values as rendered text.
type Row map[string]string

type ResultStats struct {
	BytesScanned int64
	RowCount     int
}

type ResultsPage struct {
	Rows      []Row
	NextToken string
	Stats     ResultStats
}

// QueryEngine is implemented by the warehouse engine and by test mocks.
type QueryEngine interface {
	Submit(ctx context.Context, in SubmitInput) (string, error)
	Status(ctx context.Context, executionID string) (StatusInfo, error)
	Results(ctx context.Context, executionID, pageToken string) (*ResultsPage, error)
	Cancel(ctx context.Context, executionID string) error
}
