package tactile

import "context"

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command. A non-zero exit status is reported in the
	// result, not as an error; errors mean the command could not run.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, cmd Command) (*ExecutionResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	return f(ctx, cmd)
}
