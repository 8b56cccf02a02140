package trigger

import (
	"context"
	"sync"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/sequence"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/triggerlibrary"
	"github.com/labbench/controller/internal/types"
)

// Manager is the TriggerScriptManager (C10): a library façade symmetric to
// sequence.Manager, plus the single active Runtime invariant (§4.10 —
// starting a new runtime stops whichever one is currently active).
type Manager struct {
	lib      *triggerlibrary.Library
	sessions *sessionmanager.Manager
	seqMgr   *sequence.Manager
	b        *bus.Bus

	mu     sync.Mutex
	active *Runtime
}

// NewManager binds a trigger-script library to the session/sequence
// managers and bus.
func NewManager(lib *triggerlibrary.Library, sessions *sessionmanager.Manager, seqMgr *sequence.Manager, b *bus.Bus) *Manager {
	return &Manager{lib: lib, sessions: sessions, seqMgr: seqMgr, b: b}
}

// Start aborts whatever runtime is currently active and starts scriptID.
func (m *Manager) Start(ctx context.Context, scriptID string) (types.TriggerScriptState, error) {
	script, err := m.lib.Get(scriptID)
	if err != nil {
		return types.TriggerScriptState{}, err
	}

	m.mu.Lock()
	prev := m.active
	m.active = nil
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Stop()
	}

	rt := New(script, m.sessions, m.seqMgr, m.b)
	if err := rt.Start(ctx); err != nil {
		return types.TriggerScriptState{}, err
	}

	m.mu.Lock()
	m.active = rt
	m.mu.Unlock()

	return rt.State(), nil
}

// Stop stops the currently active runtime, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	rt := m.active
	m.mu.Unlock()
	if rt == nil {
		return labberr.State("stop", "", "no trigger script is running")
	}
	return rt.Stop()
}

// Pause pauses the currently active runtime, if any.
func (m *Manager) Pause() error {
	m.mu.Lock()
	rt := m.active
	m.mu.Unlock()
	if rt == nil {
		return labberr.State("pause", "", "no trigger script is running")
	}
	return rt.Pause()
}

// Resume resumes the currently active runtime, if any.
func (m *Manager) Resume() error {
	m.mu.Lock()
	rt := m.active
	m.mu.Unlock()
	if rt == nil {
		return labberr.State("resume", "", "no trigger script is running")
	}
	return rt.Resume()
}

// GetActiveState returns the state of the active runtime, or the zero
// value with ok=false if nothing is running.
func (m *Manager) GetActiveState() (types.TriggerScriptState, bool) {
	m.mu.Lock()
	rt := m.active
	m.mu.Unlock()
	if rt == nil {
		return types.TriggerScriptState{}, false
	}
	return rt.State(), true
}

// List returns every stored trigger script.
func (m *Manager) List() ([]types.TriggerScript, error) {
	return m.lib.List()
}

// Get returns one stored trigger script.
func (m *Manager) Get(id string) (types.TriggerScript, error) {
	return m.lib.Get(id)
}

// Save stores a new trigger script (generating an id if script.ID is empty)
// and emits a library-changed event. Returns the stored id.
func (m *Manager) Save(script types.TriggerScript) (string, error) {
	id, err := m.lib.Add(script)
	if err != nil {
		return "", err
	}
	m.publishLibrary()
	return id, nil
}

// Update replaces an existing trigger script and emits a library-changed
// event.
func (m *Manager) Update(id string, fn func(types.TriggerScript) (types.TriggerScript, error)) error {
	if err := m.lib.Update(id, fn); err != nil {
		return err
	}
	m.publishLibrary()
	return nil
}

// Delete removes a trigger script by id. Refuses while that script is the
// active runtime.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil && active.script.ID == id && active.State().ExecutionState != types.ScriptIdle {
		return labberr.Precondition("delete", id, "trigger script is currently running")
	}
	if err := m.lib.Delete(id); err != nil {
		return err
	}
	m.publishLibrary()
	return nil
}

func (m *Manager) publishLibrary() {
	scripts, err := m.lib.List()
	if err != nil {
		return
	}
	m.b.Publish(bus.Envelope{Type: bus.TypeTriggerScriptLibrary, Payload: map[string][]types.TriggerScript{"scripts": scripts}})
}
