// Package fault defines the pipeline's error taxonomy. Every fatal error
// that reaches the orchestrator carries the stage it occurred in and a
// kind that drives retry and notification behavior.
package fault

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a failure belongs to. Values double as
// the persisted Request failure stage.
type Stage string

const (
	StageGeneration Stage = "SQL_GENERATED"
	StageExecution  Stage = "EXECUTING"
	StageSummarize  Stage = "SUMMARIZED"
	StageNotify     Stage = "DELIVERED"
	StageIntake     Stage = "RECEIVED"
)

// Kind classifies a failure for retry policy and user-facing reporting.
type Kind string

const (
	KindGeneration    Kind = "GenerationError"
	KindUnsafeQuery   Kind = "UnsafeQuery"
	KindValidation    Kind = "ValidationError"
	KindSyntax        Kind = "SyntaxError"
	KindPermission    Kind = "PermissionError"
	KindTransient     Kind = "TransientEngineError"
	KindTimeout       Kind = "Timeout"
	KindSummarization Kind = "SummarizationError"
	KindDelivery      Kind = "DeliveryError"
)

type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at stage %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(stage Stage, kind Kind, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}

func Newf(stage Stage, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Stage: stage, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is not a pipeline fault.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StageOf returns the stage of err, or "" if err is not a pipeline fault.
func StageOf(err error) Stage {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}

// IsTransient reports whether err may succeed on a retried attempt.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// Reason renders a human-readable failure reason for notifications.
func Reason(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fmt.Sprintf("%s: %v", fe.Kind, fe.Err)
	}
	return err.Error()
}
