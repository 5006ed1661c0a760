// Command watch prints compile events shared through Redis, optionally after
// replaying the most recent history.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/dontdude/texcompile/internal/config"
	"github.com/dontdude/texcompile/internal/domain"
	"github.com/dontdude/texcompile/internal/platform/events"
)

var cli struct {
	Filename string `short:"f" help:"Only show events for this source file."`
	Replay   int    `help:"Number of past events to print before following." default:"0"`

	Redis   config.Redis   `embed:""`
	Logging config.Logging `embed:""`
}

func main() {
	if err := config.Parse(&cli, "watch", "Follows compile events of texcompile servers.", os.Args[1:]); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	cli.Logging.Install(os.Stdout)

	if cli.Redis.Addr == "" {
		slog.Error("redis-addr is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := events.NewRedisStream(ctx, cli.Redis.Addr, cli.Redis.Prefix)
	if err != nil {
		slog.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	defer stream.Close()

	if cli.Replay > 0 {
		past, err := stream.History(ctx, cli.Replay)
		if err != nil {
			slog.Error("Failed to read history", "error", err)
			os.Exit(1)
		}
		// History is newest first; print in the order things happened.
		slices.Reverse(past)
		for _, ev := range past {
			printEvent(ev)
		}
	}

	ch, err := stream.Subscribe(ctx)
	if err != nil {
		slog.Error("Failed to subscribe", "error", err)
		os.Exit(1)
	}

	slog.Info("Watching compile events", "prefix", cli.Redis.Prefix, "filename", cli.Filename)
	for ev := range ch {
		printEvent(ev)
	}
}

func printEvent(ev domain.CompileEvent) {
	if cli.Filename != "" && ev.Filename != cli.Filename {
		return
	}
	attrs := []any{
		"requestID", ev.ID,
		"filename", ev.Filename,
		"exitCode", ev.ExitCode,
		"durationMs", ev.DurationMS,
		"finishedAt", ev.FinishedAt,
	}
	switch ev.Status {
	case domain.EventSuccess:
		slog.Info("Compiled", append(attrs, "pdfPath", ev.PDFPath)...)
	default:
		slog.Warn("Compile "+ev.Status, append(attrs, "error", ev.Error)...)
	}
}
