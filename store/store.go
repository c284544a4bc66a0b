// Package store persists the shared list document as a single JSON file.
// The document is always read in full, mutated in memory, and written back
// in full; there is no partial-update path. Consistency of concurrent
// mutations is delegated entirely to the lock package: callers must route
// every read-modify-write through Guarded.Update.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrCorrupt marks a document file that exists but cannot be decoded. It is
// distinct from an absent file, which Load treats as an empty document.
var ErrCorrupt = errors.New("store: corrupt document")

// Item is a single list entry.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is the shared aggregate: the full list plus its last-modified
// stamp. Save overwrites it wholesale.
type Document struct {
	Name      string    `json:"name"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument returns an empty document for the given list name.
func NewDocument(name string) *Document {
	return &Document{Name: name, Items: []Item{}}
}

// Find returns the index of the item with the given id, or -1.
func (d *Document) Find(id string) int {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// FileStore reads and writes one document file.
type FileStore struct {
	path string
	name string
}

// NewFile returns a FileStore for the document at path. name is the list
// name stamped into fresh documents.
func NewFile(path, name string) *FileStore {
	return &FileStore{path: path, name: name}
}

// Path returns the document file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. An absent file yields a fresh empty document and
// no error, so first use needs no initialization step. Any other failure,
// including undecodable content, is an error.
func (s *FileStore) Load(ctx context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(s.name), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if doc.Items == nil {
		doc.Items = []Item{}
	}
	return &doc, nil
}

// Save stamps doc with the current instant and overwrites the file with the
// full serialized document. The write goes through a temp file and rename so
// readers never observe a partially written document.
func (s *FileStore) Save(ctx context.Context, doc *Document) (*Document, error) {
	doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: marshal %s: %w", s.path, err)
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return nil, fmt.Errorf("store: write %s: %w", s.path, err)
	}
	return doc, nil
}

// writeFileAtomic writes data to a temp file in the target's directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".listd-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}
