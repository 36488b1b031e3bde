// Package dispatch runs single units of work against admitted sessions.
package dispatch

import (
	"context"
	"errors"
	"time"
)

// ErrWorkExecutionFailed wraps executor failures recorded in a Sample.
var ErrWorkExecutionFailed = errors.New("work execution failed")

// Work is one generation request.
type Work struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// Outcome is what an executor reports for a completed unit of work.
type Outcome struct {
	TTFT  time.Duration
	Total time.Duration
	Units int
	Text  string
}

// WorkExecutor performs a unit of work. Implementations must honor ctx.
type WorkExecutor interface {
	Execute(ctx context.Context, work Work) (Outcome, error)
}

// ExecutorFunc adapts a function to WorkExecutor.
type ExecutorFunc func(ctx context.Context, work Work) (Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, work Work) (Outcome, error) {
	return f(ctx, work)
}
