package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "linkforge:progress:"

// Redis is a Broker backed by Redis pub/sub, for deployments where the
// pipeline worker and the HTTP server are separate processes.
type Redis struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedis wraps an existing Redis client as a Broker.
func NewRedis(client *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.New(log.Writer(), "[PROGRESS] ", log.LstdFlags)
	}
	return &Redis{client: client, logger: logger}
}

// Subscribe implements Broker.
func (r *Redis) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	sub := r.client.Subscribe(ctx, channelPrefix+sessionID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Printf("dropping malformed progress payload: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

// Publish implements Broker.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := r.client.Publish(ctx, channelPrefix+ev.SessionID, payload).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}
