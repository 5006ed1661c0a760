// Package compile turns a CompileRequest into an engine invocation and decides
// the outcome from the files the engine leaves behind.
//
// Success is determined by the existence of <workDir>/<base>.pdf, not by the
// engine's exit code: LaTeX engines exit non-zero on recoverable problems while
// still writing a usable document. The strict policy restores exit-code checking.
package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dontdude/texcompile/internal/domain"
	"github.com/dontdude/texcompile/internal/metrics"
	"github.com/google/uuid"
)

// Client-facing messages.
const (
	MsgMissingFilename = "Missing 'filename' in request body"
	MsgInvalidFilename = "Invalid filename"
	MsgWrongExtension  = "Filename must end with .tex"
	MsgPDFNotCreated   = "PDF file not created. Check logs for critical errors."
	MsgEngineFailed    = "LaTeX compilation failed"
	MsgInternal        = domain.InternalMessage
)

const sourceExt = ".tex"

// ExitPolicy controls how the engine's exit code is interpreted.
type ExitPolicy string

const (
	// PolicyLenient ignores the exit code; the produced PDF decides.
	PolicyLenient ExitPolicy = "lenient"
	// PolicyStrict fails every run that exits non-zero.
	PolicyStrict ExitPolicy = "strict"
)

// Options configures a Service.
type Options struct {
	WorkDir string
	Engine  string
	Timeout time.Duration
	Policy  ExitPolicy
}

// Dispatcher accepts events for asynchronous delivery.
type Dispatcher interface {
	Submit(ev domain.CompileEvent) bool
}

// Service validates requests and runs the engine.
type Service struct {
	workDir  string
	engine   string
	timeout  time.Duration
	policy   ExitPolicy
	runner   domain.ProcessRunner
	recorder metrics.Recorder
	events   Dispatcher
}

// NewService returns a Service rooted at opts.WorkDir.
// The working directory must exist; it is never created.
func NewService(opts Options, runner domain.ProcessRunner) (*Service, error) {
	if runner == nil {
		return nil, errors.New("compile: runner is required")
	}
	if opts.Engine == "" {
		return nil, errors.New("compile: engine is required")
	}
	workDir, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("compile: resolve work dir: %w", err)
	}
	info, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("compile: work dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("compile: work dir %s is not a directory", workDir)
	}

	policy := opts.Policy
	switch policy {
	case "":
		policy = PolicyLenient
	case PolicyLenient, PolicyStrict:
	default:
		return nil, fmt.Errorf("compile: unknown exit policy %q", policy)
	}

	return &Service{
		workDir:  workDir,
		engine:   opts.Engine,
		timeout:  opts.Timeout,
		policy:   policy,
		runner:   runner,
		recorder: metrics.NoopRecorder{},
	}, nil
}

// WithRecorder sets the metrics recorder.
func (s *Service) WithRecorder(r metrics.Recorder) *Service {
	if r != nil {
		s.recorder = r
	}
	return s
}

// WithDispatcher sets where compile events are sent.
func (s *Service) WithDispatcher(d Dispatcher) *Service {
	s.events = d
	return s
}

// WorkDir returns the absolute working directory.
func (s *Service) WorkDir() string {
	return s.workDir
}

// Compile runs the engine for req. The returned error is always a *domain.CompileError.
func (s *Service) Compile(ctx context.Context, req domain.CompileRequest) (*domain.CompileResult, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	res, cerr := s.compile(ctx, req)

	outcome := metrics.OutcomeSuccess
	if cerr != nil {
		outcome = string(cerr.Kind)
	}
	s.recorder.ObserveCompile(outcome, time.Since(start))

	if cerr != nil {
		return nil, cerr
	}
	return res, nil
}

func (s *Service) compile(ctx context.Context, req domain.CompileRequest) (*domain.CompileResult, *domain.CompileError) {
	if req.Filename == nil {
		return nil, domain.NewValidationError(MsgMissingFilename)
	}
	filename := *req.Filename
	logger := slog.With("requestID", req.ID, "filename", filename)

	if hasTraversal(filename) {
		logger.Warn("Rejected filename")
		return nil, domain.NewValidationError(MsgInvalidFilename)
	}
	base, ext := splitExt(filename)
	if ext != sourceExt {
		return nil, domain.NewValidationError(MsgWrongExtension)
	}

	sourcePath := filepath.Join(s.workDir, filename)
	if !s.contains(sourcePath) {
		logger.Warn("Rejected filename outside work dir", "path", sourcePath)
		return nil, domain.NewValidationError(MsgInvalidFilename)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, domain.NewNotFoundError(sourcePath)
	}
	if !s.containsResolved(sourcePath) {
		logger.Warn("Rejected symlink leaving work dir", "path", sourcePath)
		return nil, domain.NewValidationError(MsgInvalidFilename)
	}

	args := []string{
		s.engine,
		"-interaction=nonstopmode",
		"-output-directory=" + s.workDir,
		sourcePath,
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger.Info("Executing command", "command", strings.Join(args, " "))
	start := time.Now()
	run, err := s.runner.Run(runCtx, domain.Invocation{Args: args, Dir: s.workDir})
	ev := domain.CompileEvent{
		ID:         req.ID,
		Filename:   filename,
		ExitCode:   run.ExitCode,
		DurationMS: time.Since(start).Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		logger.Error("An unexpected error occurred", "error", err)
		// Events are visible to every websocket client; the cause is only logged.
		ev.Status = domain.EventError
		ev.Error = MsgInternal
		s.dispatch(ev)
		return nil, domain.NewInternalError(err)
	}
	s.recorder.IncEngineExit(run.ExitCode)

	if s.policy == PolicyStrict && run.ExitCode != 0 {
		logger.Error("Error during LaTeX compilation", "exitCode", run.ExitCode, "stderr", run.Stderr)
		ev.Status = domain.EventFailed
		ev.Error = MsgEngineFailed
		s.dispatch(ev)
		return nil, domain.NewCompilationError(MsgEngineFailed, run.Stderr)
	}

	pdfPath := filepath.Join(s.workDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		logger.Warn("Command ran, but PDF not found", "exitCode", run.ExitCode, "pdfPath", pdfPath)
		ev.Status = domain.EventFailed
		ev.Error = MsgPDFNotCreated
		s.dispatch(ev)
		return nil, domain.NewCompilationError(MsgPDFNotCreated, run.Stdout)
	}

	logger.Info("PDF successfully created", "exitCode", run.ExitCode, "pdfPath", pdfPath)
	ev.Status = domain.EventSuccess
	ev.PDFPath = pdfPath
	s.dispatch(ev)
	return &domain.CompileResult{PDFPath: pdfPath, Warnings: run.Stdout, ExitCode: run.ExitCode}, nil
}

func (s *Service) dispatch(ev domain.CompileEvent) {
	if s.events == nil {
		return
	}
	if !s.events.Submit(ev) {
		slog.Warn("Dropped compile event", "requestID", ev.ID)
	}
}

// contains reports whether path is lexically below the working directory.
func (s *Service) contains(path string) bool {
	return within(s.workDir, path)
}

// containsResolved repeats the check with symlinks resolved on both sides.
func (s *Service) containsResolved(path string) bool {
	root, err := filepath.EvalSymlinks(s.workDir)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	return within(root, resolved)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// hasTraversal is the first, textual guard: any ".." and any absolute path is refused.
func hasTraversal(name string) bool {
	return strings.Contains(name, "..") ||
		strings.HasPrefix(name, "/") ||
		strings.HasPrefix(name, string(filepath.Separator)) ||
		filepath.IsAbs(name)
}

// splitExt splits name into base and extension. Leading dots of the last path
// element do not start an extension, so ".tex" has no extension at all.
func splitExt(name string) (base, ext string) {
	ext = filepath.Ext(name)
	if ext == "" {
		return name, ""
	}
	elem := filepath.Base(name)
	if strings.TrimLeft(elem, ".") == strings.TrimPrefix(ext, ".") && strings.HasPrefix(elem, ".") {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
