package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still carries the caller's
// token, making the ownership check and the delete a single atomic step.
// Returns 1 when released or already absent, -1 on a token mismatch.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
    return 1
end
if v == ARGV[1] then
    redis.call("DEL", KEYS[1])
    return 1
end
return -1
`)

// Redis implements Locker using a Redis key. The staleness threshold maps to
// the key's TTL, so crashed holders are recovered by Redis itself rather than
// by contenders inspecting marker age.
type Redis struct {
	client *redis.Client
	key    string
	opts   Options
	log    *slog.Logger
}

// NewRedis returns a Redis-backed lock on key using the provided client.
func NewRedis(client *redis.Client, key string, opts Options) *Redis {
	opts = opts.withDefaults()
	return &Redis{client: client, key: key, opts: opts, log: opts.Logger}
}

// Acquire implements Locker.Acquire.
func (r *Redis) Acquire(ctx context.Context, owner string) (string, error) {
	start := time.Now()
	attempts := 0
	for {
		token := owner + "#" + uuid.NewString()
		ok, err := r.client.SetNX(ctx, r.key, token, r.opts.Staleness).Result()
		if err != nil {
			return "", fmt.Errorf("lock: setnx %s: %w", r.key, err)
		}
		if ok {
			return token, nil
		}
		attempts++
		if attempts >= r.opts.MaxAttempts {
			return "", &AcquireTimeoutError{Name: r.key, Attempts: attempts, Elapsed: time.Since(start)}
		}
		if err := sleep(ctx, r.opts.Backoff); err != nil {
			return "", err
		}
	}
}

// Release implements Locker.Release.
func (r *Redis) Release(ctx context.Context, token string) error {
	res, err := releaseScript.Run(ctx, r.client, []string{r.key}, token).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lock: release %s: %w", r.key, err)
	}
	if res == -1 {
		return ErrNotOwner
	}
	return nil
}

// WithLock implements Locker.WithLock.
func (r *Redis) WithLock(ctx context.Context, owner string, fn func() error) error {
	return runLocked(ctx, r, r.log, r.key, owner, fn)
}
