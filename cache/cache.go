// Package cache holds recently broadcast document snapshots so the lock-free
// read path can answer without touching the filesystem. Entries are
// invalidated on every local mutation and every peer change event; a miss
// falls through to the document store.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultTTL bounds how long a snapshot may be served when invalidation
// events are lost.
const DefaultTTL = 5 * time.Second

// Snapshots caches serialized documents keyed by list name, backed by
// dgraph-io/ristretto.
type Snapshots struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// Option configures a Snapshots cache.
type Option func(*Snapshots)

// WithTTL overrides the snapshot TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Snapshots) { s.ttl = ttl }
}

// New returns a Snapshots cache.
func New(opts ...Option) *Snapshots {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	s := &Snapshots{c: rc, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached snapshot for list, if present.
func (s *Snapshots) Get(ctx context.Context, list string) ([]byte, bool) {
	v, ok := s.c.Get(list)
	if !ok {
		return nil, false
	}
	data, _ := v.([]byte)
	return data, data != nil
}

// Put stores the snapshot for list.
func (s *Snapshots) Put(ctx context.Context, list string, snapshot []byte) {
	s.c.SetWithTTL(list, snapshot, int64(len(snapshot)), s.ttl)
	s.c.Wait()
}

// Invalidate drops the snapshot for list.
func (s *Snapshots) Invalidate(ctx context.Context, list string) {
	s.c.Del(list)
	s.c.Wait()
}

// Close releases the underlying cache.
func (s *Snapshots) Close() {
	s.c.Close()
}
