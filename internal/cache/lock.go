package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Lock is a held aggregate lock. Release it when the mutation is done.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireLock takes the single-writer lock for one aggregate instance.
// Returns ErrLockHeld if another owner holds it. The lock expires after
// ttl so a crashed owner cannot block the aggregate forever.
func (c *Cache) AcquireLock(ctx context.Context, kind, id string, ttl time.Duration) (*Lock, error) {
	key := lockKeyPrefix + kind + ":" + id
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &Lock{client: c.client, key: key, token: token}, nil
}

// Release drops the lock if this owner still holds it. Releasing an
// expired or stolen lock is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// Key returns the Redis key backing the lock.
func (l *Lock) Key() string {
	return l.key
}
