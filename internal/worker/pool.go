package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/texcompile/internal/domain"
)

// publishTimeout bounds one delivery attempt.
const publishTimeout = 5 * time.Second

// Pool implements a fixed-size worker pool that delivers compile events to a
// publisher, keeping slow brokers off the request path.
type Pool struct {
	// workerCount determines how many deliveries can run concurrently.
	workerCount int
	// eventsCh is the queue for pending events.
	eventsCh chan domain.CompileEvent
	// wg tracks active workers to ensure graceful shutdown.
	wg        sync.WaitGroup
	publisher domain.EventPublisher

	// mu guards closed so Submit never sends on a closed channel.
	mu     sync.RWMutex
	closed bool
}

// NewPool initializes the worker pool with a fixed concurrency limit and queue size.
func NewPool(concurrency, buffer int, publisher domain.EventPublisher) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Pool{
		workerCount: concurrency,
		eventsCh:    make(chan domain.CompileEvent, buffer),
		publisher:   publisher,
	}
}

// Start spawns the fixed number of worker goroutines.
// It returns immediately.
func (p *Pool) Start() {
	slog.Info("Starting event pool", "concurrency", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop initiates a graceful shutdown.
// It closes the queue, lets workers drain it and blocks until all have exited.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.eventsCh)
	p.mu.Unlock()

	slog.Info("Stopping event pool, waiting for deliveries to drain...")
	p.wg.Wait()
	slog.Info("Event pool stopped")
}

// Submit queues ev without blocking. It returns false when the queue is full
// or the pool is stopped.
func (p *Pool) Submit(ev domain.CompileEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.eventsCh <- ev:
		return true
	default:
		return false
	}
}

// worker delivers queued events until the channel is closed.
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	slog.Debug("Event worker started", "workerID", id)

	for ev := range p.eventsCh {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.publisher.Publish(ctx, ev); err != nil {
			slog.Error("Failed to publish compile event", "workerID", id, "requestID", ev.ID, "error", err)
		}
		cancel()
	}

	slog.Debug("Event worker stopped", "workerID", id)
}
