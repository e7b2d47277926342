// Package executor is the boundary to whatever actually performs task work.
package executor

import (
	"context"
	"time"
)

// Executor performs one task description. The result payload is opaque to the core.
type Executor interface {
	Execute(ctx context.Context, description string) (Result, error)
}

// Result is a successful execution.
type Result struct {
	Output   string
	Duration time.Duration
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, description string) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, description string) (Result, error) {
	return f(ctx, description)
}
