package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Trim removes history entries older than maxAge (XTRIM MINID).
// Stream IDs start with the millisecond timestamp of insertion.
func (r *RedisStream) Trim(ctx context.Context, maxAge time.Duration) (int64, error) {
	minID := fmt.Sprintf("%d-0", time.Now().Add(-maxAge).UnixMilli())
	n, err := r.client.XTrimMinID(ctx, r.stream, minID).Result()
	if err != nil {
		return 0, fmt.Errorf("redis history trim failed: %w", err)
	}
	return n, nil
}

// StartRetentionRoutine trims the history every interval until ctx is done.
func (r *RedisStream) StartRetentionRoutine(ctx context.Context, interval, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting history retention routine", "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Trim(ctx, maxAge)
			if err != nil {
				slog.Error("Retention routine failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Trimmed history entries", "count", n)
			}
		}
	}
}
