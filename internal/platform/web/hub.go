package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dontdude/texcompile/internal/domain"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// wsClient is one websocket subscriber. mu serializes writes, which gorilla
// connections do not allow concurrently.
type wsClient struct {
	conn     *websocket.Conn
	filename string
	mu       sync.Mutex
}

// Hub manages active WebSocket connections and fans compile events out to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
}

// Hub can stand in for the shared stream when Redis is not configured.
var _ domain.EventPublisher = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the connection to WebSocket and registers it.
// The optional filename query parameter restricts delivery to one source file.
func (h *Hub) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("WebSocket upgrade failed", "error", err)
			return
		}

		c := &wsClient{conn: conn, filename: r.URL.Query().Get("filename")}
		slog.Info("Client connected via WebSocket", "remoteAddr", conn.RemoteAddr(), "filename", c.filename)
		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		defer func() {
			slog.Info("Client disconnected", "remoteAddr", conn.RemoteAddr())
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			conn.Close()
		}()

		// Keep the connection until the client goes away; inbound messages are ignored.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// Publish forwards ev to every matching client.
func (h *Hub) Publish(_ context.Context, ev domain.CompileEvent) error {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.filename == "" || c.filename == ev.Filename {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := c.conn.WriteJSON(ev)
		c.mu.Unlock()
		if err != nil {
			// The read loop notices the broken connection and unregisters it.
			slog.Error("Failed to write to websocket", "requestID", ev.ID, "error", err)
			c.conn.Close()
		}
	}
	return nil
}

// Run forwards events from a shared stream until the channel closes.
func (h *Hub) Run(ctx context.Context, events <-chan domain.CompileEvent) {
	slog.Info("Starting event broadcaster")
	for ev := range events {
		_ = h.Publish(ctx, ev)
	}
	slog.Info("Event broadcaster stopped")
}
