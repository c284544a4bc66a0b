package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Memory implements Locker against an in-process table. It mirrors the file
// lock's protocol (bounded attempts, staleness breaking, token-checked
// release) without touching the filesystem, which makes it suitable for
// tests and single-process embedding. It cannot coordinate across processes.
type Memory struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	token      string
	acquiredAt time.Time
}

// NewMemory returns a new in-memory lock.
func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	return &Memory{opts: opts, log: opts.Logger}
}

// Acquire implements Locker.Acquire.
func (m *Memory) Acquire(ctx context.Context, owner string) (string, error) {
	start := time.Now()
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		m.mu.Lock()
		if m.token != "" && time.Since(m.acquiredAt) > m.opts.Staleness {
			m.token = ""
		}
		if m.token == "" {
			token, err := holderToken(owner)
			if err != nil {
				m.mu.Unlock()
				return "", err
			}
			m.token = token
			m.acquiredAt = time.Now()
			m.mu.Unlock()
			return token, nil
		}
		m.mu.Unlock()

		attempts++
		if attempts >= m.opts.MaxAttempts {
			return "", &AcquireTimeoutError{Name: "memory", Attempts: attempts, Elapsed: time.Since(start)}
		}
		if err := sleep(ctx, m.opts.Backoff); err != nil {
			return "", err
		}
	}
}

// Release implements Locker.Release.
func (m *Memory) Release(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return nil
	}
	if m.token != token {
		return ErrNotOwner
	}
	m.token = ""
	return nil
}

// WithLock implements Locker.WithLock.
func (m *Memory) WithLock(ctx context.Context, owner string, fn func() error) error {
	return runLocked(ctx, m, m.log, "memory", owner, fn)
}
