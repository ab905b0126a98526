package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrLockTimeout = errors.New("lock not acquired before deadline")

var releaseIfOwnerScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ParentLock is a redis SET NX lock keyed by id parent. It keeps two replicas from
// counting the same parent's children at once.
type ParentLock struct {
	redis  *redis.Client
	poll   time.Duration
	wait   time.Duration
	logger zerolog.Logger
}

func NewParentLock(rdb *redis.Client, wait time.Duration, logger zerolog.Logger) *ParentLock {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &ParentLock{redis: rdb, poll: 25 * time.Millisecond, wait: wait, logger: logger}
}

// Acquire blocks until the lock is held, wait elapses or ctx ends. The returned
// release deletes the key only while this holder still owns it.
func (l *ParentLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	key = "agentchat:lock:" + key

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock setnx: %w", err)
		}
		if ok {
			return func() {
				// the request context may already be done
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseIfOwnerScript.Run(rctx, l.redis, []string{key}, token).Err(); err != nil {
					l.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
