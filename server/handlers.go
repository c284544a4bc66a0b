package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bitlyn/listd/lock"
	"github.com/bitlyn/listd/store"
)

type addItemRequest struct {
	Text string `json:"text"`
}

type patchItemRequest struct {
	Done *bool `json:"done"`
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	if s.snaps != nil {
		if data, ok := s.snaps.Get(r.Context(), s.list); ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
			return
		}
	}
	doc, err := s.guarded.Store().Load(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.snaps != nil {
		s.snaps.Put(r.Context(), s.list, data)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)
		return
	}
	item := store.Item{
		ID:        uuid.NewString(),
		Text:      text,
		Category:  s.cls.Category(text),
		CreatedAt: time.Now().UTC(),
	}
	s.mutate(w, r, http.StatusCreated, func(doc *store.Document) error {
		doc.Items = append(doc.Items, item)
		return nil
	})
}

func (s *Server) handlePatchItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Done == nil {
		http.Error(w, "done is required", http.StatusBadRequest)
		return
	}
	s.mutate(w, r, http.StatusOK, func(doc *store.Document) error {
		i := doc.Find(id)
		if i < 0 {
			return errItemNotFound
		}
		doc.Items[i].Done = *req.Done
		return nil
	})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mutate(w, r, http.StatusOK, func(doc *store.Document) error {
		i := doc.Find(id)
		if i < 0 {
			return errItemNotFound
		}
		doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
		return nil
	})
}

func (s *Server) handleClearDone(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, http.StatusOK, func(doc *store.Document) error {
		kept := doc.Items[:0]
		for _, it := range doc.Items {
			if !it.Done {
				kept = append(kept, it)
			}
		}
		doc.Items = kept
		return nil
	})
}

// mutate runs one guarded mutation and, on success, broadcasts the saved
// document and writes it as the response.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, status int, fn func(*store.Document) error) {
	owner := s.owner + "/" + r.RemoteAddr
	doc, err := s.guarded.Update(r.Context(), owner, fn)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The mutation is persisted even if the client has disconnected by now;
	// watchers and peers still need the snapshot.
	s.broadcast(context.WithoutCancel(r.Context()), doc)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var timeout *lock.AcquireTimeoutError
	switch {
	case errors.Is(err, errItemNotFound):
		http.Error(w, "item not found", http.StatusNotFound)
	case errors.As(err, &timeout):
		s.log.Warn("mutation rejected, lock busy", "list", s.list, "elapsed", timeout.Elapsed)
		http.Error(w, "list is busy, retry", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrCorrupt):
		s.log.Error("document corrupt", "list", s.list, "error", err)
		http.Error(w, "document unreadable", http.StatusInternalServerError)
	default:
		s.log.Error("request failed", "list", s.list, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
