package watchbus

import (
	"context"
	"sync"

	"github.com/bitlyn/listd/metrics"
)

// InMemory is the single-node Bus implementation. Slow watchers are skipped
// rather than blocked: the channel holds one pending snapshot and a newer
// one supersedes anything a watcher has not consumed yet.
type InMemory struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewInMemory creates a new in-memory Bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string][]chan []byte)}
}

// Publish implements Bus.Publish.
func (b *InMemory) Publish(ctx context.Context, list string, snapshot []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Sends stay under the mutex: Unwatch closes channels under the same
	// mutex, so a watcher disconnecting mid-broadcast cannot race a send.
	// Every send is non-blocking, the lock is held only briefly.
	b.mu.Lock()
	for _, ch := range b.subs[list] {
		select {
		case ch <- snapshot:
		default:
			// drop the stale pending snapshot, then retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	b.mu.Unlock()
	metrics.BroadcastCounter.Inc()
	return nil
}

// Watch implements Bus.Watch.
func (b *InMemory) Watch(ctx context.Context, list string) (chan []byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan []byte, 1)
	b.mu.Lock()
	b.subs[list] = append(b.subs[list], ch)
	b.mu.Unlock()
	metrics.WatcherGauge.Inc()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), list, ch)
	}()
	return ch, nil
}

// Unwatch implements Bus.Unwatch.
func (b *InMemory) Unwatch(ctx context.Context, list string, ch chan []byte) error {
	b.mu.Lock()
	subs := b.subs[list]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[list] = subs
			close(c)
			metrics.WatcherGauge.Dec()
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, list)
	}
	b.mu.Unlock()
	return nil
}
