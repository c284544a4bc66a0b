package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryAcquireRelease(t *testing.T) {
	l := NewMemory(Options{})
	ctx := context.Background()

	token, err := l.Acquire(ctx, "w1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Acquire(ctx, "w2"); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
}

func TestMemoryReleaseWrongToken(t *testing.T) {
	l := NewMemory(Options{})
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "w1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(ctx, "bogus"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestMemoryTimeout(t *testing.T) {
	l := NewMemory(Options{MaxAttempts: 3, Backoff: 10 * time.Millisecond, Staleness: time.Minute})
	ctx := context.Background()
	if _, err := l.Acquire(ctx, "holder"); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	_, err := l.Acquire(ctx, "contender")
	var timeout *AcquireTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected AcquireTimeoutError, got %v", err)
	}
}

func TestMemoryStaleExpiry(t *testing.T) {
	l := NewMemory(Options{MaxAttempts: 100, Backoff: 5 * time.Millisecond, Staleness: 30 * time.Millisecond})
	ctx := context.Background()
	if _, err := l.Acquire(ctx, "crashed"); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	start := time.Now()
	if _, err := l.Acquire(ctx, "survivor"); err != nil {
		t.Fatalf("acquire after staleness: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("lock broken before staleness threshold (%s)", elapsed)
	}
}

func TestMemoryWithLockPropagatesError(t *testing.T) {
	l := NewMemory(Options{})
	want := errors.New("nope")
	if err := l.WithLock(context.Background(), "w1", func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected callback error, got %v", err)
	}
	// Lock must be free again.
	if _, err := l.Acquire(context.Background(), "w2"); err != nil {
		t.Fatalf("acquire after withlock: %v", err)
	}
}
