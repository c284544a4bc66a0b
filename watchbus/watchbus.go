// Package watchbus delivers document snapshots to connected clients. Every
// successful mutation publishes the full post-mutation document; watchers
// receive whole snapshots, never diffs, so a missed message is repaired by
// the next one.
package watchbus

import "context"

// Bus fans document snapshots out to watchers of a list.
type Bus interface {
	// Publish sends the snapshot to all watchers of list.
	Publish(ctx context.Context, list string, snapshot []byte) error
	// Watch subscribes to snapshots for list. The returned channel receives
	// payloads until the context is canceled or Unwatch is called.
	Watch(ctx context.Context, list string) (chan []byte, error)
	// Unwatch stops delivering snapshots for list to ch.
	Unwatch(ctx context.Context, list string, ch chan []byte) error
}
