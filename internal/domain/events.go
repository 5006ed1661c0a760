package domain

import (
	"context"
	"time"
)

// Event statuses.
const (
	EventSuccess = "success"
	EventFailed  = "failed"
	EventError   = "error"
)

// CompileEvent is emitted once per compilation that reached the engine.
type CompileEvent struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	PDFPath    string    `json:"pdf_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// EventPublisher delivers compile events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, ev CompileEvent) error
}

// EventStream is an EventPublisher that can also be read back.
// It decouples the application from the underlying broker (Redis, NATS, etc.).
type EventStream interface {
	EventPublisher

	// Subscribe returns a channel that streams events from all server instances.
	// The channel is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan CompileEvent, error)

	// History returns up to n of the most recent events, newest first.
	History(ctx context.Context, n int) ([]CompileEvent, error)
}
