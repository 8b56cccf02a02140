package sequence

import (
	"context"
	"sync"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/events"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/seqlibrary"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/types"
)

// Manager is the SequenceManager (C8): a library façade plus the single
// active Controller invariant (§4.8 — starting a new run aborts whichever
// run is currently active).
type Manager struct {
	lib      *seqlibrary.Library
	sessions *sessionmanager.Manager
	b        *bus.Bus
	logger   *events.EventLogger

	mu     sync.Mutex
	active *Controller
}

// NewManager binds a sequence library to the session registry and bus.
func NewManager(lib *seqlibrary.Library, sessions *sessionmanager.Manager, b *bus.Bus) *Manager {
	return &Manager{lib: lib, sessions: sessions, b: b, logger: events.GetGlobalEventLogger()}
}

// Run validates preconditions (§4.8: sequence exists, device session
// exists, parameter is a declared output, units match), aborts whatever
// controller is currently active, and starts a new one.
func (m *Manager) Run(ctx context.Context, cfg types.SequenceRunConfig) (types.SequenceState, error) {
	def, err := m.lib.Get(cfg.SequenceID)
	if err != nil {
		return types.SequenceState{}, err
	}

	session, err := m.sessions.GetSession(cfg.DeviceID)
	if err != nil {
		return types.SequenceState{}, err
	}

	caps := session.State().Capabilities
	desc, ok := caps.Output(cfg.Parameter)
	if !ok {
		return types.SequenceState{}, labberr.Precondition("run", cfg.SequenceID, "parameter is not a declared output of this device")
	}
	if desc.Unit != def.Unit {
		return types.SequenceState{}, labberr.Precondition("run", cfg.SequenceID, "sequence unit does not match parameter unit")
	}

	m.mu.Lock()
	prev := m.active
	m.active = nil
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Abort()
	}

	c := New(def, cfg, session, m.b)
	if err := c.Start(ctx); err != nil {
		return types.SequenceState{}, err
	}

	m.mu.Lock()
	m.active = c
	m.mu.Unlock()

	return c.State(), nil
}

// Abort stops the currently active controller, if any.
func (m *Manager) Abort() error {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return labberr.State("abort", "", "no sequence is running")
	}
	return c.Abort()
}

// Pause pauses the currently active controller, if any.
func (m *Manager) Pause() error {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return labberr.State("pause", "", "no sequence is running")
	}
	return c.Pause()
}

// Resume resumes the currently active controller, if any.
func (m *Manager) Resume() error {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return labberr.State("resume", "", "no sequence is running")
	}
	return c.Resume()
}

// GetActiveState returns the state of the active controller, or the zero
// value with ok=false if nothing is running.
func (m *Manager) GetActiveState() (types.SequenceState, bool) {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return types.SequenceState{}, false
	}
	return c.State(), true
}

// List returns every stored sequence definition.
func (m *Manager) List() ([]types.SequenceDefinition, error) {
	return m.lib.List()
}

// Get returns one stored sequence definition.
func (m *Manager) Get(id string) (types.SequenceDefinition, error) {
	return m.lib.Get(id)
}

// Save stores a new sequence definition (generating an id if def.ID is
// empty) and emits a library-changed event. Returns the stored id.
func (m *Manager) Save(def types.SequenceDefinition) (string, error) {
	id, err := m.lib.Add(def)
	if err != nil {
		return "", err
	}
	m.b.Publish(bus.Envelope{Type: bus.TypeSequenceLibrarySaved, Payload: map[string]string{"sequenceId": id}})
	m.publishLibrary()
	return id, nil
}

// Update replaces an existing sequence definition and emits a
// library-changed event.
func (m *Manager) Update(id string, fn func(types.SequenceDefinition) (types.SequenceDefinition, error)) error {
	if err := m.lib.Update(id, fn); err != nil {
		return err
	}
	m.b.Publish(bus.Envelope{Type: bus.TypeSequenceLibrarySaved, Payload: map[string]string{"sequenceId": id}})
	m.publishLibrary()
	return nil
}

// Delete removes a sequence definition by id. Refuses while that sequence
// is the active run.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil && active.def.ID == id {
		if st := active.State().ExecutionState; st == types.SeqRunning || st == types.SeqPaused {
			return labberr.Precondition("delete", id, "sequence is currently running")
		}
	}
	if err := m.lib.Delete(id); err != nil {
		return err
	}
	m.b.Publish(bus.Envelope{Type: bus.TypeSequenceLibraryDeleted, Payload: map[string]string{"sequenceId": id}})
	m.publishLibrary()
	return nil
}

func (m *Manager) publishLibrary() {
	defs, err := m.lib.List()
	if err != nil {
		return
	}
	m.b.Publish(bus.Envelope{Type: bus.TypeSequenceLibrary, Payload: map[string][]types.SequenceDefinition{"sequences": defs}})
}
