package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ MessageCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	MessageID string    `json:"messageId"`
	SentAt    time.Time `json:"sentAt"`
}

func sentKey(runID, contactID string) string {
	return fmt.Sprintf("msg:%s:%s", runID, contactID)
}

func (c *RedisCache) StoreSent(ctx context.Context, runID, contactID, messageID string, sentAt time.Time) error {
	b, err := json.Marshal(sentValue{
		MessageID: messageID,
		SentAt:    sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(runID, contactID), b, c.ttl).Err()
}
