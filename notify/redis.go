package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSender publishes notifications to the Pub/Sub channel notifications:user:{id}.
type RedisSender struct {
	rdb *redis.Client
}

// NewRedisSender creates a RedisSender. A nil client makes Send a no-op.
func NewRedisSender(rdb *redis.Client) *RedisSender {
	return &RedisSender{rdb: rdb}
}

// UserChannel is the channel a user's notifications are published on.
func UserChannel(userID string) string { return "notifications:user:" + userID }

func (s *RedisSender) Channel() string { return "redis" }

// Send publishes n as JSON.
func (s *RedisSender) Send(ctx context.Context, userID string, n Notification) error {
	if s.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return s.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}
