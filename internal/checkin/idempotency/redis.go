package idempotency

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1], so a guard that
// expired and was re-taken by another request is left alone.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend shares idempotency results across service instances.
type RedisBackend struct {
	Client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{Client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *RedisBackend) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisBackend) DeleteIfValue(ctx context.Context, key string, value []byte) error {
	err := compareAndDelete.Run(ctx, r.Client, []string{key}, value).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
