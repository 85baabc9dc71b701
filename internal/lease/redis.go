// Package lease provides a Redis-backed lease so multiple service instances
// do not sweep expired holds concurrently.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLease is a SETNX lease with a TTL safety net: a crashed holder frees
// the lease at expiry. Release only deletes the key when this instance still
// owns it.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

func (l *RedisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
