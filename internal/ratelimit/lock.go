package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrInvalidLock = errors.New("invalid_lock_request")

// compare-and-delete so an expired holder cannot release a newer holder's lock.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`

// Locker hands out short-lived single-key leases in redis.
type Locker struct {
	client  redis.Cmdable
	release *redis.Script
}

func NewLocker(client redis.Cmdable) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(lockReleaseScript)}
}

// TryLock returns the lease token and true when key was free. A held key
// yields ok=false with no error.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" || ttl <= 0 {
		return "", false, ErrInvalidLock
	}
	token = uuid.NewString()
	if ok, err = l.client.SetNX(ctx, key, token, ttl).Result(); err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops the lease if token still owns it. Missing inputs are a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
