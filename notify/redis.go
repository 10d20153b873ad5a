package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "tradeflow.notifications"

// Publisher is the subset of *redis.Client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes notifications as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

// DialRedis connects and pings before returning the client.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: connect redis: %w", err)
	}
	return client, nil
}

type redisMessage struct {
	RecipientID  string `json:"recipient_id"`
	EventType    string `json:"event_type"`
	EntityID     string `json:"entity_id"`
	ConnectionID string `json:"connection_id"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	msg := redisMessage{
		RecipientID:  n.RecipientID,
		EventType:    string(n.EventType),
		EntityID:     n.EntityID,
		ConnectionID: n.ConnectionID,
		Message:      n.Message,
	}
	if !n.CreatedAt.IsZero() {
		msg.Timestamp = n.CreatedAt.Unix()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal redis message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}
