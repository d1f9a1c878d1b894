// Package lock provides the Redis-backed job lock used when several workers
// share one database but lock traffic should stay off it.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"feedbackgate/internal/types"
)

const keyPrefix = "feedbackgate:joblock:"

// releaseScript deletes the key only while it still holds the caller's
// worker ID, so a worker never frees a lock that expired and was reclaimed.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements scheduler.JobLocker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Dial parses a redis:// URL, connects and verifies the connection.
func Dial(ctx context.Context, url string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "redis ping failed", err)
	}
	return &RedisLocker{client: client}, nil
}

// Acquire takes the lock for ttl. It returns false while another worker
// holds it.
func (l *RedisLocker) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+lockID, workerID, ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to acquire job lock", err)
	}
	return ok, nil
}

// Release frees the lock if workerID still owns it.
func (l *RedisLocker) Release(ctx context.Context, lockID, workerID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + lockID}, workerID).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to release job lock", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
