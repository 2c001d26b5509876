// Package redislock implements a cooperative advisory lock with a lease,
// backed by Redis SET NX. A crashed holder's lock expires with the lease so
// retries can proceed without manual intervention.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder currently owns the lock.
var ErrLockHeld = errors.New("redislock: lock already held")

// ReleaseFunc releases an acquired lock. Releasing an already-expired lock
// is a no-op.
type ReleaseFunc func(ctx context.Context) error

// Locker is the advisory lock contract consumed by services.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (ReleaseFunc, error)
}

// releaseScript deletes the key only if it still carries our token, so a
// lease that expired and was re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
}

// New creates a Redis-backed Locker.
func New(client *redis.Client) Locker {
	return &redisLocker{client: client}
}

// Acquire takes the lock for at most the given lease. It yields ErrLockHeld
// immediately when the lock is owned elsewhere, never spin-retrying.
func (l *redisLocker) Acquire(ctx context.Context, key string, lease time.Duration) (ReleaseFunc, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := l.client.SetNX(ctx, key, token, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
