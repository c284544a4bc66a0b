package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func newFileLock(t *testing.T, opts Options) *File {
	t.Helper()
	return NewFile(filepath.Join(t.TempDir(), "list.lock"), opts)
}

func TestFileAcquireWritesTokenAndReleases(t *testing.T) {
	l := newFileLock(t, Options{})
	ctx := context.Background()

	token, err := l.Acquire(ctx, "worker-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != token {
		t.Fatalf("marker content %q does not match token %q", data, token)
	}
	if err := l.Release(ctx, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatalf("marker still present after release: %v", err)
	}
}

func TestFileReleaseAbsentMarkerIsNoop(t *testing.T) {
	l := newFileLock(t, Options{})
	if err := l.Release(context.Background(), "whatever"); err != nil {
		t.Fatalf("release of absent marker: %v", err)
	}
}

func TestFileMutualExclusion(t *testing.T) {
	l := newFileLock(t, Options{MaxAttempts: 200, Backoff: 5 * time.Millisecond})
	ctx := context.Background()

	var inFlight, counter int32
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return l.WithLock(ctx, "contender", func() error {
				if atomic.AddInt32(&inFlight, 1) != 1 {
					t.Error("two holders inside the critical section")
				}
				time.Sleep(2 * time.Millisecond)
				counter++
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("withlock group: %v", err)
	}
	if counter != 8 {
		t.Fatalf("expected 8 serialized increments, got %d", counter)
	}
}

func TestFileWithLockReleasesOnCallbackError(t *testing.T) {
	l := newFileLock(t, Options{})
	want := errors.New("mutation failed")

	err := l.WithLock(context.Background(), "worker-1", func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatal("marker left behind after failed callback")
	}
}

func TestFileWithLockReleasesOnPanic(t *testing.T) {
	l := newFileLock(t, Options{})

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = l.WithLock(context.Background(), "worker-1", func() error { panic("boom") })
	}()
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatal("marker left behind after panicking callback")
	}
}

func TestFileStaleMarkerRecovery(t *testing.T) {
	l := newFileLock(t, Options{MaxAttempts: 50, Backoff: 10 * time.Millisecond, Staleness: 150 * time.Millisecond})
	ctx := context.Background()

	// Abandoned holder: marker exists, nobody will release it.
	if _, err := l.Acquire(ctx, "crashed"); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	start := time.Now()
	token, err := l.Acquire(ctx, "survivor")
	if err != nil {
		t.Fatalf("acquire after staleness: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 100*time.Millisecond {
		t.Fatalf("marker broken before staleness threshold (%s)", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("stale recovery took too long (%s)", elapsed)
	}
	data, _ := os.ReadFile(l.Path())
	if string(data) != token {
		t.Fatalf("marker does not carry the survivor token")
	}
}

func TestFileOwnershipSafetyAfterStaleBreak(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.lock")
	a := NewFile(path, Options{Staleness: 50 * time.Millisecond, Backoff: 10 * time.Millisecond})
	b := NewFile(path, Options{Staleness: 50 * time.Millisecond, Backoff: 10 * time.Millisecond})
	ctx := context.Background()

	tokenA, err := a.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	// Age A's marker past the threshold so B breaks it.
	old := time.Now().Add(-time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	tokenB, err := b.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	// A's late release must not delete B's marker.
	if err := a.Release(ctx, tokenA); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("marker missing after a's late release: %v", err)
	}
	if string(data) != tokenB {
		t.Fatalf("marker content %q is not b's token", data)
	}
}

func TestFileAcquireTimeoutBound(t *testing.T) {
	l := newFileLock(t, Options{MaxAttempts: 3, Backoff: 50 * time.Millisecond, Staleness: time.Minute})
	ctx := context.Background()

	if _, err := l.Acquire(ctx, "holder"); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	start := time.Now()
	_, err := l.Acquire(ctx, "contender")
	elapsed := time.Since(start)

	var timeout *AcquireTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected AcquireTimeoutError, got %v", err)
	}
	if timeout.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", timeout.Attempts)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("timed out too early (%s)", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("timed out too late (%s)", elapsed)
	}
	if timeout.Elapsed <= 0 {
		t.Fatal("timeout error does not carry elapsed time")
	}
}

func TestFileAcquireHonorsContext(t *testing.T) {
	l := newFileLock(t, Options{MaxAttempts: 1000, Backoff: 10 * time.Millisecond, Staleness: time.Minute})
	ctx := context.Background()
	if _, err := l.Acquire(ctx, "holder"); err != nil {
		t.Fatalf("seed acquire: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := l.Acquire(cctx, "contender"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("acquire did not respect context cancellation")
	}
}

func TestFileAcquireTerminatesUnderMarkerChurn(t *testing.T) {
	l := newFileLock(t, Options{MaxAttempts: 5, Backoff: 2 * time.Millisecond, Staleness: time.Minute})

	// Another process constantly acquiring and releasing: the marker flickers
	// between present (fresh) and absent. Acquire must either win or time out,
	// never spin unbounded.
	stop := make(chan struct{})
	churned := make(chan struct{})
	go func() {
		defer close(churned)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = os.WriteFile(l.Path(), []byte("churner@now#id"), 0o644)
			_ = os.Remove(l.Path())
		}
	}()

	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(context.Background(), "contender")
		done <- err
	}()

	select {
	case err := <-done:
		var timeout *AcquireTimeoutError
		if err != nil && !errors.As(err, &timeout) {
			t.Fatalf("acquire: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not terminate under marker churn")
	}
	close(stop)
	<-churned
}
