package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotOwner is returned by Release when the marker no longer carries the
// caller's token. Another contender broke the lock as stale and now holds it;
// the marker must be left untouched.
var ErrNotOwner = errors.New("lock: marker held by a different owner")

// AcquireTimeoutError reports that the attempt budget was exhausted without
// obtaining the lock.
type AcquireTimeoutError struct {
	Name     string
	Attempts int
	Elapsed  time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("lock: acquiring %s timed out after %d attempts (%s)", e.Name, e.Attempts, e.Elapsed)
}

// Locker is a cooperative mutual-exclusion primitive guarding a single
// resource. Acquire returns an opaque holder token that must be presented
// back to Release; only a token matching the current marker content releases
// the lock.
type Locker interface {
	// Acquire obtains the lock for owner, retrying with a fixed backoff and
	// breaking stale markers. It returns the holder token on success.
	Acquire(ctx context.Context, owner string) (string, error)
	// Release frees the lock if token still matches the marker content.
	// An already-absent marker is treated as released.
	Release(ctx context.Context, token string) error
	// WithLock runs fn while holding the lock and releases it on every exit
	// path, including a panicking fn. fn's error is propagated unchanged;
	// release bookkeeping failures are logged, never returned.
	WithLock(ctx context.Context, owner string, fn func() error) error
}

// Defaults applied by Options.withDefaults. Worst-case non-stale contention
// waits MaxAttempts*Backoff (2.5s) before failing, and a crashed holder is
// recoverable within Staleness (5s) by the next contender.
const (
	DefaultMaxAttempts = 50
	DefaultBackoff     = 50 * time.Millisecond
	DefaultStaleness   = 5 * time.Second
)

// Options configures a lock manager. Zero values take the package defaults.
type Options struct {
	// MaxAttempts bounds the number of backoff waits before Acquire fails.
	MaxAttempts int
	// Backoff is the fixed sleep between attempts while the lock is
	// contended and not stale.
	Backoff time.Duration
	// Staleness is the marker age beyond which a holder is presumed crashed
	// and its marker may be forcibly broken.
	Staleness time.Duration
	// Logger receives release bookkeeping warnings from WithLock.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Staleness <= 0 {
		o.Staleness = DefaultStaleness
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// runLocked implements the WithLock contract shared by all Locker
// implementations.
func runLocked(ctx context.Context, l Locker, log *slog.Logger, name, owner string, fn func() error) error {
	token, err := l.Acquire(ctx, owner)
	if err != nil {
		return err
	}
	defer func() {
		// Release must not mask fn's outcome; failures are log-only.
		if rerr := l.Release(context.Background(), token); rerr != nil {
			if errors.Is(rerr, ErrNotOwner) {
				log.Warn("lock was broken as stale while held", "lock", name, "owner", owner)
			} else {
				log.Error("lock release failed", "lock", name, "owner", owner, "error", rerr)
			}
		}
	}()
	return fn()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
