package watchbus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// SnapshotFunc returns the current serialized document for a list. Handlers
// call it once per new watcher so clients start from the present state
// instead of waiting for the next mutation.
type SnapshotFunc func(ctx context.Context, list string) ([]byte, error)

func listParam(r *http.Request, fallback string) string {
	if l := r.URL.Query().Get("list"); l != "" {
		return l
	}
	return fallback
}

// SSEHandler streams snapshots over Server-Sent Events. The watched list is
// taken from the "list" query parameter, falling back to defaultList.
func SSEHandler(bus Bus, snap SnapshotFunc, defaultList string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := listParam(r, defaultList)
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, list)
		if err != nil {
			cancel()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), list, ch)
		}()
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "stream unsupported", http.StatusInternalServerError)
			return
		}
		if snap != nil {
			if cur, err := snap(ctx, list); err == nil {
				if _, err := fmt.Fprintf(w, "data: %s\n\n", cur); err != nil {
					return
				}
				flusher.Flush()
			}
		}
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
					return
				}
				flusher.Flush()
			case <-ctx.Done():
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{}

// WebSocketHandler streams snapshots over WebSocket. The watched list is
// taken from the "list" query parameter, falling back to defaultList. The
// current snapshot is sent immediately after the upgrade.
func WebSocketHandler(bus Bus, snap SnapshotFunc, defaultList string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := listParam(r, defaultList)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		ctx, cancel := context.WithCancel(r.Context())
		ch, err := bus.Watch(ctx, list)
		if err != nil {
			cancel()
			return
		}
		defer func() {
			cancel()
			_ = bus.Unwatch(context.Background(), list, ch)
		}()
		if snap != nil {
			if cur, err := snap(ctx, list); err == nil {
				if err := conn.WriteMessage(websocket.TextMessage, cur); err != nil {
					return
				}
			}
		}
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
