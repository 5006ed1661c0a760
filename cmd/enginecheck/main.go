// Command enginecheck compiles a minimal document with the configured runner
// and engine, to verify an installation before the server takes traffic.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dontdude/texcompile/internal/compile"
	"github.com/dontdude/texcompile/internal/config"
	"github.com/dontdude/texcompile/internal/domain"
	"github.com/dontdude/texcompile/internal/platform/engine"
)

const sample = `\documentclass{article}
\begin{document}
Hello from texcompile.
\end{document}
`

var cli struct {
	Dir  string `help:"Directory to compile in (a temporary one by default)." type:"existingdir"`
	Keep bool   `help:"Keep the temporary directory."`

	Engine  config.Engine  `embed:""`
	Logging config.Logging `embed:""`
}

func main() {
	if err := config.Parse(&cli, "enginecheck", "Verifies that the typesetting engine can produce a PDF.", os.Args[1:]); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	cli.Logging.Install(os.Stdout)
	slog.Info("Starting engine check", "engine", cli.Engine.Binary, "runner", cli.Engine.Runner)

	dir := cli.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "enginecheck-")
		if err != nil {
			slog.Error("Failed to create temp dir", "error", err)
			os.Exit(1)
		}
		dir = tmp
	}

	code := check(dir)
	if cli.Dir == "" && !cli.Keep {
		os.RemoveAll(dir)
	}
	os.Exit(code)
}

func check(dir string) int {
	if err := os.WriteFile(filepath.Join(dir, "enginecheck.tex"), []byte(sample), 0o644); err != nil {
		slog.Error("Failed to write sample document", "error", err)
		return 1
	}

	ctx := context.Background()
	runner, closeRunner, err := engine.NewRunner(ctx, cli.Engine, dir)
	if err != nil {
		slog.Error("Failed to initialize runner", "error", err)
		return 1
	}
	defer closeRunner()

	svc, err := compile.NewService(compile.Options{
		WorkDir: dir,
		Engine:  cli.Engine.Binary,
		Timeout: cli.Engine.Timeout,
		Policy:  compile.ExitPolicy(cli.Engine.ExitPolicy),
	}, runner)
	if err != nil {
		slog.Error("Failed to initialize compiler", "error", err)
		return 1
	}

	name := "enginecheck.tex"
	res, err := svc.Compile(ctx, domain.CompileRequest{Filename: &name})
	if err != nil {
		slog.Error("Verification failed", "error", err)
		return 1
	}

	slog.Info("Execution finished successfully", "pdfPath", res.PDFPath, "exitCode", res.ExitCode)
	return 0
}
