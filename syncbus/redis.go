package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	redis "github.com/redis/go-redis/v9"
)

func redisChannel(list string) string { return "listd:changed:" + list }

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  []chan struct{}
}

// Redis implements Bus over Redis pub/sub.
type Redis struct {
	client    *redis.Client
	mu        sync.Mutex
	subs      map[string]*redisSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedis returns a Redis-backed bus using the provided client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, subs: make(map[string]*redisSubscription)}
}

// Publish implements Bus.Publish.
func (b *Redis) Publish(ctx context.Context, list string) error {
	if err := b.client.Publish(ctx, redisChannel(list), "1").Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *Redis) Subscribe(ctx context.Context, list string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[list]
	if sub == nil {
		ps := b.client.Subscribe(context.Background(), redisChannel(list))
		sub = &redisSubscription{pubsub: ps}
		b.subs[list] = sub
		go b.dispatch(list, ps)
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), list, ch)
	}()
	return ch, nil
}

func (b *Redis) dispatch(list string, ps *redis.PubSub) {
	for range ps.Channel() {
		// Sends stay under the mutex so Unsubscribe cannot close a channel
		// mid-dispatch.
		b.mu.Lock()
		if s := b.subs[list]; s != nil {
			for _, c := range s.chans {
				select {
				case c <- struct{}{}:
					b.delivered.Add(1)
				default:
				}
			}
		}
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *Redis) Unsubscribe(ctx context.Context, list string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[list]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	for i, c := range sub.chans {
		if c == ch {
			sub.chans[i] = sub.chans[len(sub.chans)-1]
			sub.chans = sub.chans[:len(sub.chans)-1]
			close(c)
			break
		}
	}
	if len(sub.chans) == 0 {
		delete(b.subs, list)
		b.mu.Unlock()
		return sub.pubsub.Close()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *Redis) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
