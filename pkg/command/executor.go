package command

import (
	"context"

	"github.com/posebridge/posebridge-go/pkg/fault"
)

// Execution errors. They are reported in the Response, never returned.
var (
	// ErrInvalidPayload rejects a command whose arguments cannot be executed.
	ErrInvalidPayload = fault.New(fault.Command, "invalid command payload")

	ErrNoExecutor    = fault.New(fault.Command, "no command executor")
	ErrExecutorPanic = fault.New(fault.Command, "executor panicked")
)

// Executor performs heading and pose resets. It is called on the fast
// tick and must return quickly. ctx carries the session and command IDs
// (see clientctx.SessionIDFromContext and clientctx.CommandIDFromContext).
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}
