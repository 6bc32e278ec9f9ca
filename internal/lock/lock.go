// Package lock provides the cross-process lock that keeps the full scan and
// the changelog catch-up from running at the same time.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned by Acquire when another holder has the lock.
	ErrHeld = errors.New("lock is held by another process")
	// ErrNotHeld is returned by a release whose lease has expired or been
	// taken over.
	ErrNotHeld = errors.New("lock is no longer held")
)

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker hands out an exclusive lease.
type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// Noop is a Locker that always succeeds, for single-host deployments.
type Noop struct{}

// Acquire returns a release that does nothing.
func (Noop) Acquire(context.Context) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// DefaultKey is the Redis key shared by the sync jobs.
const DefaultKey = "wheelodex:sync"

// DefaultTTL bounds how long a crashed holder can block other runs.
const DefaultTTL = 6 * time.Hour

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker backed by a single Redis key.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker connects to the Redis server at url. Empty key and
// non-positive ttl select DefaultKey and DefaultTTL.
func NewRedisLocker(url, key string, ttl time.Duration) (*RedisLocker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: redis.NewClient(opt), key: key, ttl: ttl}, nil
}

// Acquire takes the lock or fails with ErrHeld.
func (l *RedisLocker) Acquire(ctx context.Context) (Release, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, l.key)
	}
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("releasing lock %s: %w", l.key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotHeld, l.key)
		}
		return nil
	}, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
