package models

import "time"

// QueryType enumerates the supported request shapes. Known types map to
// SQL templates; Custom goes through the generation capability.
type QueryType string

const (
	QueryTypeDailySales        QueryType = "daily_sales_summary"
	QueryTypeTopProducts       QueryType = "top_products"
	QueryTypeCustomerAnalytics QueryType = "customer_analytics"
	QueryTypeRevenueTrends     QueryType = "revenue_trends"
	QueryTypeCustom            QueryType = "custom"
)

func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeDailySales, QueryTypeTopProducts, QueryTypeCustomerAnalytics,
		QueryTypeRevenueTrends, QueryTypeCustom:
		return true
	}
	return false
}

// RequestStatus mirrors the furthest pipeline stage a request reached.
type RequestStatus string

const (
	StatusReceived     RequestStatus = "RECEIVED"
	StatusSQLGenerated RequestStatus = "SQL_GENERATED"
	StatusExecuting    RequestStatus = "EXECUTING"
	StatusSummarized   RequestStatus = "SUMMARIZED"
	StatusDelivered    RequestStatus = "DELIVERED"
	StatusFailed       RequestStatus = "FAILED"
)

// Terminal reports whether no further status transitions can occur.
func (s RequestStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Request is created at intake and immutable afterwards except for its
// status fields, which only the orchestrator moves.
type Request struct {
	ID            string
	Text          string
	QueryType     QueryType
	InferredType  QueryType
	DateRange     *DateRange
	Filters       map[string]string
	Recipient     string
	Status        RequestStatus
	FailureStage  string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ValidationState string

const (
	ValidationPending  ValidationState = "PENDING"
	ValidationAccepted ValidationState = "ACCEPTED"
	ValidationRejected ValidationState = "REJECTED"
)

type GeneratedQuery struct {
	RequestID       string
	SQLText         string
	ValidationState ValidationState
	Templated       bool
	CreatedAt       time.Time
}

// ExecutionState follows the engine's lifecycle plus the executor-owned
// TIMEOUT terminal. Transitions are monotonic.
type ExecutionState string

const (
	ExecSubmitted ExecutionState = "SUBMITTED"
	ExecRunning   ExecutionState = "RUNNING"
	ExecSucceeded ExecutionState = "SUCCEEDED"
	ExecFailed    ExecutionState = "FAILED"
	ExecCancelled ExecutionState = "CANCELLED"
	ExecTimeout   ExecutionState = "TIMEOUT"
)

func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecSucceeded, ExecFailed, ExecCancelled, ExecTimeout:
		return true
	}
	return false
}

type QueryExecution struct {
	ExecutionID  string
	RequestID    string
	Attempt      int
	State        ExecutionState
	SubmittedAt  time.Time
	CompletedAt  *time.Time
	ResultHandle string
	BytesScanned int64
	RowCount     int
	Error        string
}

type Insight struct {
	RequestID   string
	ExecutionID string
	Summary     string
	CreatedAt   time.Time
}

// FailureReport is the terminal artifact for a failed request, routed to
// the dispatcher instead of an Insight.
type FailureReport struct {
	RequestID string
	Stage     string
	Kind      string
	Reason    string
	CreatedAt time.Time
}

// DeliveryResult records the outcome of a dispatched notification. It is
// stored under the idempotency key so replays return the original result.
type DeliveryResult struct {
	RequestID   string
	Outcome     string
	Recipient   string
	ReceiptID   string
	Attempts    int
	DeliveredAt time.Time
}
