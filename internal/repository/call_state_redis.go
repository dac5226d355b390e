package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCallStateStore struct {
	client *redis.Client
}

func NewRedisCallStateStore(client *redis.Client) CallStateStore {
	return &redisCallStateStore{client: client}
}

func (s *redisCallStateStore) MarkConsumed(ctx context.Context, callSID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, "voicegate:consumed:"+callSID, 1, ttl).Result()
}
