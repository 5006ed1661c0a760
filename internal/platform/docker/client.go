package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/texcompile/internal/domain"
)

// Pull policies.
const (
	PullMissing = "missing"
	PullAlways  = "always"
	PullNever   = "never"
)

// defaultMemory is the hard memory limit of an engine container.
const defaultMemory = 512 * 1024 * 1024

// Options configures the container runner.
type Options struct {
	Image string
	Pull  string
	// WorkDir is bind-mounted into the container at the same path, so paths
	// built on the host stay valid inside.
	WorkDir     string
	MemoryBytes int64
}

// Runner executes the engine inside an ephemeral Docker container.
type Runner struct {
	cli  *client.Client
	opts Options
}

// Check if Runner implements domain.ProcessRunner
var _ domain.ProcessRunner = (*Runner)(nil)

// NewRunner initializes a verified Docker client and makes the image available.
// It pings the daemon and applies the pull policy so a broken setup or a slow
// first pull happens at startup instead of inside a request.
func NewRunner(ctx context.Context, opts Options) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	r, err := newRunner(ctx, cli, opts)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return r, nil
}

func newRunner(ctx context.Context, cli *client.Client, opts Options) (*Runner, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("docker runner: image is required")
	}
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = defaultMemory
	}
	switch opts.Pull {
	case "":
		opts.Pull = PullMissing
	case PullMissing, PullAlways, PullNever:
	default:
		return nil, fmt.Errorf("docker runner: unknown pull policy %q", opts.Pull)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	r := &Runner{cli: cli, opts: opts}
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	slog.Info("Docker runner initialized", "image", opts.Image, "pull", opts.Pull)
	return r, nil
}

// Close releases the daemon connection.
func (r *Runner) Close() error {
	return r.cli.Close()
}

// Run executes inv in a fresh container and removes it afterwards.
func (r *Runner) Run(ctx context.Context, inv domain.Invocation) (domain.RunResult, error) {
	if len(inv.Args) == 0 {
		return domain.RunResult{}, fmt.Errorf("%w: empty command", domain.ErrLaunch)
	}

	// 1. Create Container with Limits
	cfg, hostCfg := r.containerConfig(inv)
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		slog.Error("Failed to create container", "error", err)
		return domain.RunResult{}, fmt.Errorf("%w: create container: %w", domain.ErrLaunch, err)
	}
	slog.Debug("Container created", "containerID", resp.ID)

	// Removal must outlive a canceled ctx; Force also kills a still-running engine.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove container", "containerID", resp.ID, "error", err)
		}
	}()

	// 2. Start and wait
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return domain.RunResult{}, fmt.Errorf("%w: start container: %w", domain.ErrLaunch, err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return domain.RunResult{}, fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		case errors.Is(ctx.Err(), context.Canceled):
			return domain.RunResult{}, fmt.Errorf("%w: %w", domain.ErrCanceled, err)
		}
		return domain.RunResult{}, fmt.Errorf("%w: wait for container: %w", domain.ErrLaunch, err)
	case status := <-statusCh:
		if status.Error != nil {
			return domain.RunResult{}, fmt.Errorf("%w: %s", domain.ErrLaunch, status.Error.Message)
		}
		exitCode = int(status.StatusCode)
	}

	// 3. Collect output
	stdout, stderr, err := r.logs(ctx, resp.ID)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("%w: read container logs: %w", domain.ErrLaunch, err)
	}

	return domain.RunResult{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

func (r *Runner) containerConfig(inv domain.Invocation) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:           r.opts.Image,
		Cmd:             inv.Args,
		WorkingDir:      inv.Dir,
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{r.opts.WorkDir + ":" + r.opts.WorkDir},
		Resources: container.Resources{
			Memory: r.opts.MemoryBytes,
		},
	}
	return cfg, hostCfg
}

func (r *Runner) ensureImage(ctx context.Context) error {
	switch r.opts.Pull {
	case PullNever:
		return nil
	case PullMissing:
		_, err := r.cli.ImageInspect(ctx, r.opts.Image)
		if err == nil {
			return nil
		}
		if !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("inspect image: %w", err)
		}
	}

	slog.Info("Pulling image", "image", r.opts.Image)
	reader, err := r.cli.ImagePull(ctx, r.opts.Image, image.PullOptions{})
	if err != nil {
		slog.Error("Failed to pull image", "image", r.opts.Image, "error", err)
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

func (r *Runner) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}
