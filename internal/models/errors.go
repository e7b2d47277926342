package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for simple lookup and validation failures.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrDependencyFailed   = errors.New("dependency failed")
	ErrQueueStalled       = errors.New("queue stalled: no task can make progress")
	ErrEmptyDescription   = errors.New("description is required")
	ErrExecutorNotFound   = errors.New("executor not found")
	ErrNoRecoveryStrategy = errors.New("no recovery strategy available")
)

// ExecutionError is raised when the external executor fails a task.
// It is recoverable and gets routed to the recovery engine.
type ExecutionError struct {
	TaskID     string    // Task that failed
	ExecutorID string    // Executor that ran it
	ExitCode   int       // Process exit code when the executor is a subprocess
	Output     string    // Captured output, if any
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

// NewExecutionError creates a new ExecutionError with the current timestamp.
func NewExecutionError(taskID, executorID string, err error) *ExecutionError {
	return &ExecutionError{
		TaskID:     taskID,
		ExecutorID: executorID,
		Err:        err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface for ExecutionError.
func (e *ExecutionError) Error() string {
	var sb strings.Builder
	if e.TaskID != "" {
		sb.WriteString(fmt.Sprintf("task %s: ", e.TaskID))
	}
	sb.WriteString("execution failed")
	if e.ExecutorID != "" {
		sb.WriteString(fmt.Sprintf(" on %s", e.ExecutorID))
	}
	if e.ExitCode != 0 {
		sb.WriteString(fmt.Sprintf(" (exit code %d)", e.ExitCode))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PlanInvalidError reports a plan that violates the step DAG invariant.
// It is fatal to the planning attempt.
type PlanInvalidError struct {
	PlanID string
	Reason string
}

// NewPlanInvalidError creates a PlanInvalidError.
func NewPlanInvalidError(planID, reason string) *PlanInvalidError {
	return &PlanInvalidError{PlanID: planID, Reason: reason}
}

// Error implements the error interface for PlanInvalidError.
func (e *PlanInvalidError) Error() string {
	if e.PlanID == "" {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan %s: %s", e.PlanID, e.Reason)
}

// NoExecutorAvailableError means no executor capability could take a task.
// The task is marked failed and not retried automatically.
type NoExecutorAvailableError struct {
	TaskID string
}

// Error implements the error interface for NoExecutorAvailableError.
func (e *NoExecutorAvailableError) Error() string {
	return fmt.Sprintf("task %s: no executor available", e.TaskID)
}

// RecoveryExhaustedError means every recovery tier failed for a task.
type RecoveryExhaustedError struct {
	TaskID     string
	Message    string   // Original failure message
	Strategies []string // Strategies attempted, in order
	Err        error    // Original failure
}

// Error implements the error interface for RecoveryExhaustedError.
func (e *RecoveryExhaustedError) Error() string {
	var sb strings.Builder
	if e.TaskID != "" {
		sb.WriteString(fmt.Sprintf("task %s: ", e.TaskID))
	}
	sb.WriteString("recovery exhausted")
	if e.Message != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Message))
	}
	if len(e.Strategies) > 0 {
		sb.WriteString(fmt.Sprintf(" (attempted: %s)", strings.Join(e.Strategies, ", ")))
	}
	return sb.String()
}

// Unwrap returns the original failure.
func (e *RecoveryExhaustedError) Unwrap() error {
	return e.Err
}

// IsExecutionError checks if the error is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var e *ExecutionError
	return err != nil && errors.As(err, &e)
}

// IsPlanInvalid checks if the error is or wraps a PlanInvalidError.
func IsPlanInvalid(err error) bool {
	var e *PlanInvalidError
	return err != nil && errors.As(err, &e)
}

// IsNoExecutorAvailable checks if the error is or wraps a NoExecutorAvailableError.
func IsNoExecutorAvailable(err error) bool {
	var e *NoExecutorAvailableError
	return err != nil && errors.As(err, &e)
}

// IsRecoveryExhausted checks if the error is or wraps a RecoveryExhaustedError.
func IsRecoveryExhausted(err error) bool {
	var e *RecoveryExhaustedError
	return err != nil && errors.As(err, &e)
}
