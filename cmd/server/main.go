package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/texcompile/internal/compile"
	"github.com/dontdude/texcompile/internal/config"
	"github.com/dontdude/texcompile/internal/domain"
	"github.com/dontdude/texcompile/internal/metrics"
	"github.com/dontdude/texcompile/internal/platform/engine"
	"github.com/dontdude/texcompile/internal/platform/events"
	"github.com/dontdude/texcompile/internal/platform/web"
	"github.com/dontdude/texcompile/internal/worker"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	shutdownTimeout   = 10 * time.Second
	retentionInterval = 10 * time.Minute
	eventWorkers      = 2
	eventBuffer       = 256
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	// 2. Initialize logger
	cfg.Logging.Install(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Server) error {
	// 3. Engine runner (local subprocess or container)
	runner, closeRunner, err := engine.NewRunner(ctx, cfg.Engine, cfg.WorkDir)
	if err != nil {
		return err
	}
	defer closeRunner()

	svc, err := compile.NewService(compile.Options{
		WorkDir: cfg.WorkDir,
		Engine:  cfg.Engine.Binary,
		Timeout: cfg.Engine.Timeout,
		Policy:  compile.ExitPolicy(cfg.Engine.ExitPolicy),
	}, runner)
	if err != nil {
		return err
	}

	// 4. Metrics
	mux := http.NewServeMux()
	if cfg.Metrics {
		reg := prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		svc.WithRecorder(metrics.NewPrometheusRecorder(reg))
		mux.Handle("GET /metrics", metrics.HTTPHandler(reg))
	}

	// 5. Events: shared through Redis when configured, otherwise straight to local websockets
	hub := web.NewHub()
	var stream domain.EventStream
	var publisher domain.EventPublisher = hub
	if cfg.Redis.Addr != "" {
		rs, err := events.NewRedisStream(ctx, cfg.Redis.Addr, cfg.Redis.Prefix)
		if err != nil {
			return err
		}
		defer rs.Close()

		sub, err := rs.Subscribe(ctx)
		if err != nil {
			return err
		}
		go hub.Run(ctx, sub)
		go rs.StartRetentionRoutine(ctx, retentionInterval, cfg.Redis.HistoryMaxAge)

		stream, publisher = rs, rs
		slog.Info("Compile events shared via Redis", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	}

	pool := worker.NewPool(eventWorkers, eventBuffer, publisher)
	pool.Start()
	defer pool.Stop()
	svc.WithDispatcher(pool)

	// 6. Routes
	limiter := web.NewRateLimiter(ctx, cfg.Rate, cfg.Burst).WithTrustedProxy(cfg.TrustProxy)
	mux.HandleFunc("POST /compile", limiter.RateLimitMiddleware(compile.NewHandler(svc)))
	mux.HandleFunc("GET /compile/history", web.NewHistoryHandler(stream))
	mux.HandleFunc("GET /api/ws", hub.HandleWS())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.EnableCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API Server starting", "addr", cfg.Addr, "workDir", svc.WorkDir(), "engine", cfg.Engine.Binary,
			"runner", cfg.Engine.Runner, "exitPolicy", cfg.Engine.ExitPolicy)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
