// Package process runs the typesetting engine as a local subprocess.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/dontdude/texcompile/internal/domain"
)

// defaultWaitDelay bounds how long output pipes are drained after the engine is killed.
const defaultWaitDelay = 5 * time.Second

// Runner executes invocations with os/exec.
type Runner struct {
	waitDelay time.Duration
}

// Check if Runner implements domain.ProcessRunner
var _ domain.ProcessRunner = (*Runner)(nil)

// NewRunner returns a local subprocess runner.
func NewRunner() *Runner {
	return &Runner{waitDelay: defaultWaitDelay}
}

// Run starts inv.Args[0] in inv.Dir and waits for it to exit.
// The process is killed when ctx is done.
func (r *Runner) Run(ctx context.Context, inv domain.Invocation) (domain.RunResult, error) {
	if len(inv.Args) == 0 {
		return domain.RunResult{}, fmt.Errorf("%w: empty command", domain.ErrLaunch)
	}

	cmd := exec.CommandContext(ctx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay

	err := cmd.Run()

	res := domain.RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if res.Stderr != "" {
		slog.Debug("engine stderr", "error_output", res.Stderr)
	}

	if err == nil {
		return res, nil
	}

	// A killed process also surfaces as *exec.ExitError, so check ctx first.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		return res, fmt.Errorf("%w: %w", domain.ErrCanceled, err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return res, fmt.Errorf("%w: %w", domain.ErrLaunch, err)
}
