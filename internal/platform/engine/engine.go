// Package engine builds the configured domain.ProcessRunner.
package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dontdude/texcompile/internal/config"
	"github.com/dontdude/texcompile/internal/domain"
	"github.com/dontdude/texcompile/internal/platform/docker"
	"github.com/dontdude/texcompile/internal/platform/process"
)

// NewRunner returns the runner selected by cfg.Runner and a function releasing it.
func NewRunner(ctx context.Context, cfg config.Engine, workDir string) (domain.ProcessRunner, func() error, error) {
	switch cfg.Runner {
	case "", config.RunnerLocal:
		return process.NewRunner(), func() error { return nil }, nil
	case config.RunnerDocker:
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve work dir: %w", err)
		}
		r, err := docker.NewRunner(ctx, docker.Options{
			Image:   cfg.DockerImage,
			Pull:    cfg.DockerPull,
			WorkDir: abs,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown runner %q", cfg.Runner)
	}
}
