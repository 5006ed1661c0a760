package web

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dontdude/texcompile/internal/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// NewHistoryHandler serves the most recent compile events, newest first.
// A nil stream means events are not shared and the endpoint reports 503.
func NewHistoryHandler(stream domain.EventStream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if stream == nil {
			WriteError(w, http.StatusServiceUnavailable, "Event history is not enabled")
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		events, err := stream.History(r.Context(), limit)
		if err != nil {
			slog.Error("Failed to read event history", "error", err)
			WriteError(w, http.StatusInternalServerError, "An internal server error occurred")
			return
		}
		WriteJSON(w, http.StatusOK, events)
	}
}
