// Package jsondoc implements the versioned, atomically-written JSON document
// store shared by the sequence and trigger-script libraries (§4.6):
// one file holding a typed item list, written via write-temp-then-rename so
// a crash mid-write never corrupts the on-disk document. Grounded on the
// teacher's artifacts.FilesystemStore (directory creation, mutex-guarded
// writes), generalized from per-run artifact blobs to one generic versioned
// document.
package jsondoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
	"github.com/labbench/controller/internal/labberr"
)

const documentVersion = 1

// Document is the on-disk shape: a schema version plus the item list.
type Document[T any] struct {
	Version int `json:"version"`
	Items   []T `json:"items"`
}

// ResolvePath picks the document's on-disk location: an explicit directory
// override if given, else the XDG data home, under
// "lab-controller/<filename>".
func ResolvePath(explicitDir, filename string) (string, error) {
	if explicitDir != "" {
		return filepath.Join(explicitDir, filename), nil
	}
	path, err := xdg.DataFile(filepath.Join("lab-controller", filename))
	if err != nil {
		return "", labberr.Persistence("resolvePath", filename, err)
	}
	return path, nil
}

// Store is a generic CRUD-capable JSON document backed by one file. T must
// be JSON-marshalable and its identity is extracted by idOf.
type Store[T any] struct {
	mu      sync.Mutex
	path    string
	maxSize int
	idOf    func(T) string
	counter int
}

// NewStore opens (without yet reading) a Store rooted at path. maxSize
// bounds the item count; Save rejects a document larger than maxSize, and
// Load truncates an on-disk document that exceeds it (e.g. written by an
// older, more permissive version).
func NewStore[T any](path string, maxSize int, idOf func(T) string) *Store[T] {
	return &Store[T]{path: path, maxSize: maxSize, idOf: idOf}
}

// Load reads every item from disk. A missing file is not an error — it
// yields an empty list, the shape a freshly-installed controller starts with.
func (s *Store[T]) Load() ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store[T]) loadLocked() ([]T, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, labberr.Persistence("load", s.path, err)
	}
	var doc Document[T]
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, labberr.Persistence("load", s.path, err)
	}
	if doc.Version != documentVersion {
		return nil, labberr.Persistence("load", s.path, fmt.Errorf("unsupported document version %d", doc.Version))
	}
	if len(doc.Items) > s.maxSize {
		doc.Items = doc.Items[:s.maxSize]
	}
	return doc.Items, nil
}

// Save atomically replaces the on-disk document with items.
func (s *Store[T]) Save(items []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(items)
}

func (s *Store[T]) saveLocked(items []T) error {
	if len(items) > s.maxSize {
		return labberr.Persistence("save", s.path, fmt.Errorf("document would hold %d items, exceeding max %d", len(items), s.maxSize))
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return labberr.Persistence("save", s.path, err)
	}
	doc := Document[T]{Version: documentVersion, Items: items}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return labberr.Persistence("save", s.path, err)
	}

	s.counter++
	tmp := fmt.Sprintf("%s.tmp-%d-%d", s.path, os.Getpid(), s.counter)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return labberr.Persistence("save", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return labberr.Persistence("save", s.path, err)
	}
	return nil
}

// Add appends item, failing if an item with the same id already exists or
// the library is at capacity.
func (s *Store[T]) Add(item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.loadLocked()
	if err != nil {
		return err
	}
	id := s.idOf(item)
	for _, existing := range items {
		if s.idOf(existing) == id {
			return labberr.Persistence("add", id, fmt.Errorf("item already exists"))
		}
	}
	return s.saveLocked(append(items, item))
}

// Update replaces the item identified by id using fn, which mutates a copy
// in place; fn's returned error aborts the update without touching disk.
func (s *Store[T]) Update(id string, fn func(current T) (T, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.loadLocked()
	if err != nil {
		return err
	}
	for i, item := range items {
		if s.idOf(item) == id {
			updated, ferr := fn(item)
			if ferr != nil {
				return ferr
			}
			items[i] = updated
			return s.saveLocked(items)
		}
	}
	return labberr.NotFound("update", id)
}

// Delete removes the item identified by id.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.loadLocked()
	if err != nil {
		return err
	}
	for i, item := range items {
		if s.idOf(item) == id {
			items = append(items[:i], items[i+1:]...)
			return s.saveLocked(items)
		}
	}
	return labberr.NotFound("delete", id)
}

// Get returns one item by id.
func (s *Store[T]) Get(id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	items, err := s.loadLocked()
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if s.idOf(item) == id {
			return item, nil
		}
	}
	return zero, labberr.NotFound("get", id)
}
