// Package notify publishes wardrobe change events to Redis and decodes them
// on the subscriber side.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend-go-chat-gateway/internal/logger"

	"github.com/go-redis/redis/v8"
)

// Event is published after a confirmed write operation has run.
type Event struct {
	TraceID   string         `json:"trace_id,omitempty"`
	UserID    string         `json:"user_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
}

// Publisher sends events to one channel. A nil *Publisher drops them.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if rdb == nil {
		return nil
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Publish stamps and sends ev.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	if ev.TraceID == "" {
		ev.TraceID = logger.TraceID(ctx)
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, string(b)).Err()
}

// Decode parses a published payload.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.UserID == "" || ev.Tool == "" {
		return Event{}, fmt.Errorf("decode event: missing user_id or tool")
	}
	return ev, nil
}

// Listen delivers decoded events from channel to handle until ctx is done or
// the subscription closes. Malformed payloads are logged and skipped.
func Listen(ctx context.Context, rdb *redis.Client, channel string, handle func(Event)) error {
	sub := rdb.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	lg := logger.NewContextLogger(ctx)
	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgCh:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			ev, err := Decode(msg.Payload)
			if err != nil {
				lg.Warn("notification_malformed", "error", err)
				continue
			}
			handle(ev)
		}
	}
}
