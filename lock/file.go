package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bitlyn/listd/metrics"
)

var tracer = otel.Tracer("github.com/bitlyn/listd/lock")

// File implements Locker using a marker file on a shared filesystem. The
// marker's existence signifies "held": creation uses O_EXCL so exactly one
// contender can succeed, across processes, without any in-process state.
type File struct {
	path string
	opts Options
	log  *slog.Logger
}

// NewFile returns a file lock coordinating through the marker at path.
// The marker's parent directory must exist.
func NewFile(path string, opts Options) *File {
	opts = opts.withDefaults()
	return &File{path: path, opts: opts, log: opts.Logger}
}

// Path returns the marker file path.
func (f *File) Path() string { return f.path }

// Acquire implements Locker.Acquire. Attempts loop over three outcomes:
// exclusive create succeeds (held), the marker is older than the staleness
// threshold (break it and retry immediately, no attempt consumed), or the
// marker is live (sleep one backoff, consuming an attempt). A marker that
// vanishes between the failed create and the stat consumes an attempt but
// no delay, keeping the loop bounded even under constant churn.
func (f *File) Acquire(ctx context.Context, owner string) (string, error) {
	ctx, span := tracer.Start(ctx, "lock.Acquire")
	defer span.End()

	start := time.Now()
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		token, err := f.create(owner)
		if err == nil {
			span.SetAttributes(attribute.Int("lock.attempts", attempts))
			metrics.LockAcquired.Inc()
			return token, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("lock: create marker %s: %w", f.path, err)
		}

		stale, known := f.markerStale()
		if !known {
			// Marker vanished between create and stat: the holder released.
			// Retry without a delay, but count the attempt so fast
			// acquire/release churn by another process cannot spin this loop
			// forever.
			attempts++
			if attempts >= f.opts.MaxAttempts {
				metrics.LockTimeouts.Inc()
				return "", &AcquireTimeoutError{Name: f.path, Attempts: attempts, Elapsed: time.Since(start)}
			}
			continue
		}
		if stale {
			// Removal failure is benign, another contender may have broken
			// the marker first.
			_ = os.Remove(f.path)
			metrics.LockStaleBroken.Inc()
			continue
		}

		attempts++
		if attempts >= f.opts.MaxAttempts {
			metrics.LockTimeouts.Inc()
			return "", &AcquireTimeoutError{Name: f.path, Attempts: attempts, Elapsed: time.Since(start)}
		}
		metrics.LockRetries.Inc()
		if err := sleep(ctx, f.opts.Backoff); err != nil {
			return "", err
		}
	}
}

// Release implements Locker.Release. The marker is deleted only when its
// content still equals token byte for byte; a mismatch means a later
// contender broke this lock as stale and the marker is now theirs.
func (f *File) Release(ctx context.Context, token string) error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock: read marker %s: %w", f.path, err)
	}
	if string(data) != token {
		return ErrNotOwner
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("lock: remove marker %s: %w", f.path, err)
	}
	return nil
}

// WithLock implements Locker.WithLock.
func (f *File) WithLock(ctx context.Context, owner string, fn func() error) error {
	return runLocked(ctx, f, f.log, f.path, owner, fn)
}

// create writes the marker exclusively and returns its token.
func (f *File) create(owner string) (string, error) {
	token, err := holderToken(owner)
	if err != nil {
		return "", err
	}
	fd, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := fd.WriteString(token); err != nil {
		fd.Close()
		os.Remove(f.path)
		return "", err
	}
	if err := fd.Close(); err != nil {
		os.Remove(f.path)
		return "", err
	}
	return token, nil
}

// markerStale reports whether the marker's age exceeds the staleness
// threshold. known is false when the marker no longer exists.
func (f *File) markerStale() (stale, known bool) {
	info, err := os.Stat(f.path)
	if err != nil {
		return false, false
	}
	return time.Since(info.ModTime()) > f.opts.Staleness, true
}

// holderToken builds the opaque marker content: caller identity plus the
// acquisition instant plus a random component. Only ever compared for
// equality.
func holderToken(owner string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s@%s#%s", owner, time.Now().UTC().Format(time.RFC3339Nano), id), nil
}
