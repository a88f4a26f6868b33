// Package notify publishes loan events to a Redis channel for the notification service.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	notifyDomain "loan-lifecycle-engine/internal/domain/notify"
)

var _ notifyDomain.Notifier = (*RedisNotifier)(nil)

type Message struct {
	UserID     string                 `json:"user_id"`
	Event      notifyDomain.EventType `json:"event"`
	Payload    map[string]any         `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	now     func() time.Time
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, now: func() time.Time { return time.Now().UTC() }}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID string, event notifyDomain.EventType, payload map[string]any) error {
	b, err := json.Marshal(Message{UserID: userID, Event: event, Payload: payload, OccurredAt: n.now()})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", event, err)
	}
	if err := n.rdb.Publish(ctx, n.channel, b).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", event, err)
	}
	return nil
}
