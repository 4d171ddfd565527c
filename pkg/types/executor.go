package types

import (
	"context"
	"time"
)

const (
	// NoTimeout disables timeout enforcement for a CommandSpec.
	NoTimeout time.Duration = 0

	// ExitStatusKilled is reported when the executor forcibly terminated the process,
	// either because its timeout elapsed or because its context was canceled.
	ExitStatusKilled = -9
)

// CommandSpec describes a single invocation of an external command.
// A CommandSpec is treated as immutable once handed to a CommandExecutor.
type CommandSpec struct {
	// Env holds variables merged onto the parent environment; entries here win.
	Env map[string]string
	// Args is the argv of the command; Args[0] is resolved through PATH.
	Args []string
	// Input is fed to the process on stdin. A nil Input gives the process an empty stdin.
	Input []byte
	// Timeout is the wall-clock budget for the process. NoTimeout disables it.
	Timeout time.Duration
	// ForceInfoLog logs the result summary at info level regardless of the exit status.
	ForceInfoLog bool
	// SuppressWarning keeps a non-zero exit status from raising the summary to info level.
	SuppressWarning bool
}

// ExecutionResult is what a CommandExecutor captured from one process launch.
type ExecutionResult struct {
	// Stdout and Stderr hold everything the process wrote before it terminated,
	// decoded as ASCII with undecodable bytes dropped.
	Stdout string
	Stderr string
	// ExitStatus is the process exit code, or ExitStatusKilled when TimedOut or Canceled.
	ExitStatus int
	// Duration is the wall-clock time between start and reap.
	Duration time.Duration
	// TimedOut is set when the timeout elapsed and the kill took effect.
	TimedOut bool
	// Canceled is set when the context was canceled and the kill took effect.
	Canceled bool
}

// CommandExecutor is an interface for executing commands.
type CommandExecutor interface {
	// Execute runs the command described by spec to completion or forced termination.
	// Process-level failures (non-zero exit, timeout) are reported in the result; an error is
	// returned only when the process could not be started.
	Execute(ctx context.Context, spec CommandSpec) (*ExecutionResult, error)
}
