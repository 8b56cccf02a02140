// Package triggerlibrary implements the TriggerScriptLibrary: persisted
// CRUD over TriggerScripts, on the same generic jsondoc.Store contract as
// seqlibrary — trigger scripts get the identical persisted-state behavior
// sequences do, per §6's persisted-state paragraph.
package triggerlibrary

import (
	"time"

	"github.com/google/uuid"

	"github.com/labbench/controller/internal/config"
	"github.com/labbench/controller/internal/jsondoc"
	"github.com/labbench/controller/internal/types"
)

const filename = "trigger-scripts.json"

func idOf(s types.TriggerScript) string { return s.ID }

// Library persists TriggerScripts.
type Library struct {
	store *jsondoc.Store[types.TriggerScript]
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

// List returns every stored trigger script.
func (l *Library) List() ([]types.TriggerScript, error) {
	return l.store.Load()
}

// Get returns one trigger script by id.
func (l *Library) Get(id string) (types.TriggerScript, error) {
	return l.store.Get(id)
}

// Add stores a new trigger script, generating an id server-side when the
// caller didn't supply one, and stamping created/updated times. Returns the
// stored script's id.
func (l *Library) Add(script types.TriggerScript) (string, error) {
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	now := time.Now()
	script.CreatedAt = now
	script.UpdatedAt = now
	if err := l.store.Add(script); err != nil {
		return "", err
	}
	return script.ID, nil
}

// Update replaces an existing trigger script's fields via fn.
func (l *Library) Update(id string, fn func(current types.TriggerScript) (types.TriggerScript, error)) error {
	return l.store.Update(id, func(cur types.TriggerScript) (types.TriggerScript, error) {
		updated, err := fn(cur)
		if err != nil {
			return cur, err
		}
		updated.UpdatedAt = time.Now()
		return updated, nil
	})
}

// Delete removes a trigger script by id.
func (l *Library) Delete(id string) error {
	return l.store.Delete(id)
}
