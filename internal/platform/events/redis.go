package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontdude/texcompile/internal/domain"
	"github.com/redis/go-redis/v9"
)

// historyMaxLen caps the history stream independently of the age-based trim.
const historyMaxLen = 10000

// RedisStream implements domain.EventStream using Redis Pub/Sub for live
// delivery and a Redis Stream for history.
type RedisStream struct {
	client  *redis.Client
	channel string
	stream  string
}

// Ensure RedisStream satisfies the interface
var _ domain.EventStream = (*RedisStream)(nil)

// NewRedisStream connects to addr and verifies the connection.
func NewRedisStream(ctx context.Context, addr, prefix string) (*RedisStream, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStreamFromClient(rdb, prefix), nil
}

// NewRedisStreamFromClient wraps an existing client.
func NewRedisStreamFromClient(rdb *redis.Client, prefix string) *RedisStream {
	return &RedisStream{
		client:  rdb,
		channel: prefix + ":events",
		stream:  prefix + ":history",
	}
}

// Close closes the underlying client.
func (r *RedisStream) Close() error {
	return r.client.Close()
}

// Publish appends ev to the history stream (XADD) and broadcasts it on the events channel.
func (r *RedisStream) Publish(ctx context.Context, ev domain.CompileEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// We use "*" Id to let Redis generate a timestamp-based ID; the retention routine relies on it.
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: historyMaxLen,
		Values: map[string]interface{}{
			"event": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis history append failed: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// History returns up to n of the newest events using XREVRANGE.
func (r *RedisStream) History(ctx context.Context, n int) ([]domain.CompileEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", int64(n)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history read failed: %w", err)
	}

	out := make([]domain.CompileEvent, 0, len(msgs))
	for _, msg := range msgs {
		val, ok := msg.Values["event"].(string)
		if !ok {
			slog.Error("Invalid history entry format", "msgID", msg.ID)
			continue
		}
		var ev domain.CompileEvent
		if err := json.Unmarshal([]byte(val), &ev); err != nil {
			slog.Error("Failed to unmarshal history entry", "msgID", msg.ID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe subscribes to the events channel and streams events to a Go channel.
func (r *RedisStream) Subscribe(ctx context.Context) (<-chan domain.CompileEvent, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	outCh := make(chan domain.CompileEvent)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev domain.CompileEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Error("Failed to unmarshal event", "error", err)
					continue
				}

				select {
				case outCh <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}
