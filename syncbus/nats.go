package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

func natsSubject(list string) string { return "listd.changed." + list }

type natsSubscription struct {
	sub   *nats.Subscription
	chans []chan struct{}
}

// NATS implements Bus over a NATS connection.
type NATS struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATS returns a NATS-backed bus using the provided connection.
func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{conn: conn, subs: make(map[string]*natsSubscription)}
}

// Publish implements Bus.Publish.
func (b *NATS) Publish(ctx context.Context, list string) error {
	if err := b.conn.Publish(natsSubject(list), []byte("1")); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATS) Subscribe(ctx context.Context, list string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[list]
	if sub == nil {
		ns, err := b.conn.Subscribe(natsSubject(list), func(_ *nats.Msg) {
			// Sends stay under the mutex so Unsubscribe cannot close a
			// channel mid-dispatch.
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
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		sub = &natsSubscription{sub: ns}
		b.subs[list] = sub
	}
	sub.chans = append(sub.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), list, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATS) Unsubscribe(ctx context.Context, list string, ch chan struct{}) error {
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
		return sub.sub.Unsubscribe()
	}
	b.mu.Unlock()
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATS) Metrics() Metrics {
	return Metrics{Published: b.published.Load(), Delivered: b.delivered.Load()}
}
