// Package seqlibrary implements the SequenceLibrary (C6): persisted CRUD
// over SequenceDefinitions, backed by a single versioned JSON document
// resolved via XDG data-directory conventions.
package seqlibrary

import (
	"time"

	"github.com/google/uuid"

	"github.com/labbench/controller/internal/config"
	"github.com/labbench/controller/internal/jsondoc"
	"github.com/labbench/controller/internal/types"
)

const filename = "sequences.json"

func idOf(s types.SequenceDefinition) string { return s.ID }

// Library persists SequenceDefinitions.
type Library struct {
	store *jsondoc.Store[types.SequenceDefinition]
}

// Open resolves the document path (explicitDir overrides XDG data home)
// and returns a ready Library.
func Open(explicitDir string) (*Library, error) {
	path, err := jsondoc.ResolvePath(explicitDir, filename)
	if err != nil {
		return nil, err
	}
	return &Library{store: jsondoc.NewStore(path, config.MaxLibrarySize, idOf)}, nil
}

// List returns every stored sequence definition.
func (l *Library) List() ([]types.SequenceDefinition, error) {
	return l.store.Load()
}

// Get returns one sequence definition by id.
func (l *Library) Get(id string) (types.SequenceDefinition, error) {
	return l.store.Get(id)
}

// Add stores a new sequence definition, generating an id server-side when
// the caller didn't supply one, and stamping created/updated times. Returns
// the stored definition's id.
func (l *Library) Add(def types.SequenceDefinition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := l.store.Add(def); err != nil {
		return "", err
	}
	return def.ID, nil
}

// Update replaces an existing sequence definition's fields via fn.
func (l *Library) Update(id string, fn func(current types.SequenceDefinition) (types.SequenceDefinition, error)) error {
	return l.store.Update(id, func(cur types.SequenceDefinition) (types.SequenceDefinition, error) {
		updated, err := fn(cur)
		if err != nil {
			return cur, err
		}
		updated.UpdatedAt = time.Now()
		return updated, nil
	})
}

// Delete removes a sequence definition by id.
func (l *Library) Delete(id string) error {
	return l.store.Delete(id)
}
