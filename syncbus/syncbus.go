// Package syncbus propagates document-change events between listd nodes.
// An event carries no payload: it tells a node that the named list changed
// somewhere, and the node reacts by reloading the document and republishing
// the snapshot to its own watchers. The bus is a notification channel only;
// it never substitutes for the lock that serializes mutations.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a pub/sub channel for change events keyed by list name.
type Bus interface {
	Publish(ctx context.Context, list string) error
	Subscribe(ctx context.Context, list string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, list string, ch chan struct{}) error
}

// Metrics reports delivery counts of a Bus.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// InMemory is a single-process Bus, used standalone and in tests. Events
// coalesce: a subscriber that has not consumed a pending event does not
// receive additional ones.
type InMemory struct {
	mu        sync.Mutex
	subs      map[string][]chan struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemory returns a new InMemory bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string][]chan struct{})}
}

// Publish implements Bus.Publish.
func (b *InMemory) Publish(ctx context.Context, list string) error {
	b.published.Add(1)
	// Sends stay under the mutex so Unsubscribe cannot close a channel
	// mid-broadcast. Every send is non-blocking.
	b.mu.Lock()
	for _, ch := range b.subs[list] {
		select {
		case ch <- struct{}{}:
			b.delivered.Add(1)
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemory) Subscribe(ctx context.Context, list string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[list] = append(b.subs[list], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), list, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemory) Unsubscribe(ctx context.Context, list string, ch chan struct{}) error {
	b.mu.Lock()
	subs := b.subs[list]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			b.subs[list] = subs
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, list)
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *InMemory) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
