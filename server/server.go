// Package server is the HTTP request layer of listd. Every state-changing
// request routes its document mutation through the guarded store; pure reads
// go straight to the cache or the document file. Successful mutations are
// broadcast to local watchers and announced to peer nodes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bitlyn/listd/cache"
	"github.com/bitlyn/listd/classify"
	"github.com/bitlyn/listd/store"
	"github.com/bitlyn/listd/syncbus"
	"github.com/bitlyn/listd/watchbus"
)

// ErrUnknownList is returned for watch requests naming a list this server
// does not own.
var ErrUnknownList = errors.New("server: unknown list")

// errItemNotFound aborts a mutation targeting a missing item.
var errItemNotFound = errors.New("server: item not found")

// Config configures a Server. Zero values take defaults.
type Config struct {
	// List is the name of the document this server owns.
	List string
	// Owner is the caller-identifier base used for lock diagnostics.
	// Defaults to hostname:pid.
	Owner string
	// Classifier assigns categories to new items. Defaults to the grocery
	// table.
	Classifier *classify.Classifier
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server serves the list API over one guarded document.
type Server struct {
	guarded *store.Guarded
	watch   watchbus.Bus
	peers   syncbus.Bus
	snaps   *cache.Snapshots
	cls     *classify.Classifier
	list    string
	owner   string
	log     *slog.Logger
	mux     *http.ServeMux
}

// New assembles a Server. peers may be nil on single-node deployments;
// snaps may be nil to disable the read cache.
func New(guarded *store.Guarded, watch watchbus.Bus, peers syncbus.Bus, snaps *cache.Snapshots, cfg Config) *Server {
	if cfg.List == "" {
		cfg.List = "default"
	}
	if cfg.Owner == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "listd"
		}
		cfg.Owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.NewDefault()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		guarded: guarded,
		watch:   watch,
		peers:   peers,
		snaps:   snaps,
		cls:     cfg.Classifier,
		list:    cfg.List,
		owner:   cfg.Owner,
		log:     cfg.Logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/list", s.handleGetList)
	s.mux.HandleFunc("POST /api/items", s.handleAddItem)
	s.mux.HandleFunc("PATCH /api/items/{id}", s.handlePatchItem)
	s.mux.HandleFunc("DELETE /api/items/{id}", s.handleDeleteItem)
	s.mux.HandleFunc("DELETE /api/items", s.handleClearDone)
	s.mux.Handle("GET /ws", watchbus.WebSocketHandler(s.watch, s.snapshot, s.list))
	s.mux.Handle("GET /events", watchbus.SSEHandler(s.watch, s.snapshot, s.list))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Mux returns the server's mux so callers can mount additional handlers
// (e.g. /metrics) before serving.
func (s *Server) Mux() *http.ServeMux { return s.mux }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run subscribes to peer change events and republishes fresh snapshots to
// local watchers until ctx is canceled. It returns immediately on
// single-node deployments.
func (s *Server) Run(ctx context.Context) error {
	if s.peers == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ch, err := s.peers.Subscribe(ctx, s.list)
	if err != nil {
		return fmt.Errorf("server: subscribe peer events: %w", err)
	}
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			s.refresh(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refresh reloads the document after a peer mutation and pushes the snapshot
// to local watchers.
func (s *Server) refresh(ctx context.Context) {
	if s.snaps != nil {
		s.snaps.Invalidate(ctx, s.list)
	}
	doc, err := s.guarded.Store().Load(ctx)
	if err != nil {
		s.log.Error("reload after peer event failed", "list", s.list, "error", err)
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		s.log.Error("marshal after peer event failed", "list", s.list, "error", err)
		return
	}
	if s.snaps != nil {
		s.snaps.Put(ctx, s.list, data)
	}
	if err := s.watch.Publish(ctx, s.list, data); err != nil {
		s.log.Error("watch publish failed", "list", s.list, "error", err)
	}
}

// broadcast distributes the authoritative post-mutation document.
func (s *Server) broadcast(ctx context.Context, doc *store.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		s.log.Error("marshal snapshot failed", "list", s.list, "error", err)
		return
	}
	if s.snaps != nil {
		s.snaps.Put(ctx, s.list, data)
	}
	if err := s.watch.Publish(ctx, s.list, data); err != nil {
		s.log.Error("watch publish failed", "list", s.list, "error", err)
	}
	if s.peers != nil {
		if err := s.peers.Publish(ctx, s.list); err != nil {
			s.log.Error("peer publish failed", "list", s.list, "error", err)
		}
	}
}

// snapshot serves the current document for the watch handlers.
func (s *Server) snapshot(ctx context.Context, list string) ([]byte, error) {
	if list != s.list {
		return nil, ErrUnknownList
	}
	if s.snaps != nil {
		if data, ok := s.snaps.Get(ctx, list); ok {
			return data, nil
		}
	}
	doc, err := s.guarded.Store().Load(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
