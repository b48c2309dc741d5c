// Package notify delivers customer-facing notifications. Messages are pushed
// onto a Redis list consumed by the storefront's mailer workers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "fulfillment:notifications"

// Message is one customer notification.
type Message struct {
	OrderID  string    `json:"order_id"`
	Kind     string    `json:"kind"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queued_at"`
}

// Dispatcher is the notification collaborator the executors consume.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// RedisDispatcher pushes notifications onto a Redis list.
type RedisDispatcher struct {
	client *redis.Client
}

var _ Dispatcher = (*RedisDispatcher)(nil)

// NewRedisDispatcher wraps an existing Redis client.
func NewRedisDispatcher(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client}
}

// Connect dials Redis at addr and verifies connectivity.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("notify: ping redis: %w", err)
	}
	return client, nil
}

func (d *RedisDispatcher) Dispatch(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	if err := d.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("notify: push message: %w", err)
	}
	return nil
}
