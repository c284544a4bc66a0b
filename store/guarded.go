package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bitlyn/listd/lock"
	"github.com/bitlyn/listd/metrics"
)

var tracer = otel.Tracer("github.com/bitlyn/listd/store")

// Guarded couples a FileStore with the lock that serializes mutations of its
// document. Pure reads may call Load on the store directly; every
// read-modify-write must go through Update.
type Guarded struct {
	locker lock.Locker
	store  *FileStore
}

// NewGuarded returns a guarded view over store, serialized by locker.
func NewGuarded(locker lock.Locker, store *FileStore) *Guarded {
	return &Guarded{locker: locker, store: store}
}

// Store returns the underlying FileStore for lock-free reads.
func (g *Guarded) Store() *FileStore { return g.store }

// Update runs one serialized read-modify-write cycle: acquire the lock,
// reload the document, apply fn, persist, release. The reload happens after
// acquisition so fn always observes every previously released mutation. The
// returned document is the authoritative post-mutation state, suitable for
// broadcasting. fn's error aborts the cycle before Save and propagates
// unchanged; the lock is released on every path.
func (g *Guarded) Update(ctx context.Context, owner string, fn func(*Document) error) (*Document, error) {
	ctx, span := tracer.Start(ctx, "store.Update")
	defer span.End()
	span.SetAttributes(attribute.String("store.path", g.store.Path()))

	var saved *Document
	err := g.locker.WithLock(ctx, owner, func() error {
		doc, err := g.store.Load(ctx)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		saved, err = g.store.Save(ctx, doc)
		return err
	})
	if err != nil {
		metrics.MutationErrorCounter.Inc()
		return nil, err
	}
	metrics.MutationCounter.Inc()
	return saved, nil
}
