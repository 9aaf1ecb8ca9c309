package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	cli *redis.Client
}

// NewRedis wraps a connected client. GETDEL gives TakeOnce its atomicity, so
// the at-most-once consumption guarantee holds across processes behind a load
// balancer, not only within one.
func NewRedis(cli *redis.Client) Store {
	return &redisStore{cli: cli}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.cli.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.cli.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.cli.Del(ctx, key).Err()
}

func (s *redisStore) TakeOnce(ctx context.Context, key string) (string, bool, error) {
	v, err := s.cli.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
