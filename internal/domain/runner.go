package domain

import (
	"context"
	"errors"
)

// ErrLaunch is returned when the typesetting engine could not be started at all
// (binary missing, permission denied, container daemon unreachable).
var ErrLaunch = errors.New("engine launch failed")

// ErrTimeout is returned when the engine did not exit before the deadline.
var ErrTimeout = errors.New("engine timed out")

// ErrCanceled is returned when the caller gave up on the run, usually because
// the client disconnected.
var ErrCanceled = errors.New("engine canceled")

// Invocation describes one engine run.
// Args[0] is the engine binary, the rest are passed as arguments.
type Invocation struct {
	Args []string
	Dir  string
}

// RunResult captures what the engine wrote and how it exited.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessRunner defines the contract for executing the typesetting engine.
// Implementations decide where the engine runs (local subprocess, container).
type ProcessRunner interface {
	// Run executes the invocation and blocks until it exits or ctx is done.
	// A non-zero exit code is reported in RunResult and is NOT an error.
	// Errors wrap ErrLaunch, ErrTimeout or ErrCanceled.
	Run(ctx context.Context, inv Invocation) (RunResult, error)
}
