package watchbus

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// Redis implements Bus over Redis pub/sub so that clients connected to
// different nodes all observe mutations applied anywhere. Snapshots are
// ephemeral; a watcher that connects between mutations receives its first
// snapshot from the HTTP layer, not from Redis.
type Redis struct {
	client *redis.Client

	mu      sync.Mutex
	cancels map[string]map[chan []byte]context.CancelFunc
}

// NewRedis creates a new Redis-backed Bus using the provided client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:  client,
		cancels: make(map[string]map[chan []byte]context.CancelFunc),
	}
}

func channelName(list string) string { return "listd:watch:" + list }

// Publish implements Bus.Publish.
func (b *Redis) Publish(ctx context.Context, list string, snapshot []byte) error {
	return b.client.Publish(ctx, channelName(list), snapshot).Err()
}

// Watch implements Bus.Watch.
func (b *Redis) Watch(ctx context.Context, list string) (chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, 1)

	ps := b.client.Subscribe(ctx, channelName(list))
	b.mu.Lock()
	m := b.cancels[list]
	if m == nil {
		m = make(map[chan []byte]context.CancelFunc)
		b.cancels[list] = m
	}
	m[ch] = func() {
		cancel()
		_ = ps.Close()
	}
	b.mu.Unlock()

	go func() {
		defer close(ch)
		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			select {
			case ch <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Unwatch implements Bus.Unwatch.
func (b *Redis) Unwatch(ctx context.Context, list string, ch chan []byte) error {
	b.mu.Lock()
	if m, ok := b.cancels[list]; ok {
		if cancel, ok := m[ch]; ok {
			delete(m, ch)
			if len(m) == 0 {
				delete(b.cancels, list)
			}
			b.mu.Unlock()
			cancel()
			return nil
		}
	}
	b.mu.Unlock()
	return nil
}
