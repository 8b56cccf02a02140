// Package sessionmanager implements the SessionManager (C4): the registry
// of live DeviceSessions keyed by device id, fleet discovery via a
// pluggable DeviceEnumerator, and the global stop() that tears every
// session down. Grounded on the teacher's scheduler.Registry (map +
// sync.RWMutex + Copy()-on-read).
package sessionmanager

import (
	"context"
	"sync"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/devicesession"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
)

// DeviceEnumerator discovers the instrument fleet reachable from this
// controller instance. The simulated enumerator returns a fixed fleet; a
// real deployment could plug a serial-port or network scanner.
type DeviceEnumerator interface {
	Enumerate(ctx context.Context) ([]DeviceDescriptor, error)
}

// DeviceDescriptor is what an enumerator knows about a device before a
// Driver has described it: enough to build a devicesession.Factory.
type DeviceDescriptor struct {
	ID      string
	Kind    types.DeviceKind
	Address string
}

// DriverBuilder constructs a Driver bound to address for the given kind,
// dialing through the desired transport.
type DriverBuilder func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error)

// Manager is the process-wide device-session registry.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*devicesession.Session
	enumer    DeviceEnumerator
	buildDrv  DriverBuilder
	bus       *bus.Bus
}

func New(enumer DeviceEnumerator, buildDrv DriverBuilder, b *bus.Bus) *Manager {
	return &Manager{
		sessions: make(map[string]*devicesession.Session),
		enumer:   enumer,
		buildDrv: buildDrv,
		bus:      b,
	}
}

// Scan re-discovers the fleet, connecting sessions for newly seen devices
// and leaving existing sessions untouched. Emits deviceList on any change.
func (m *Manager) Scan(ctx context.Context) error {
	descriptors, err := m.enumer.Enumerate(ctx)
	if err != nil {
		return labberr.Transport("scan", "", err)
	}

	changed := false
	for _, d := range descriptors {
		m.mu.RLock()
		_, exists := m.sessions[d.ID]
		m.mu.RUnlock()
		if exists {
			continue
		}

		descriptor := d
		factory := func(ctx context.Context) (driver.Driver, error) {
			return m.buildDrv(ctx, descriptor.Kind, descriptor.Address)
		}
		sess := devicesession.New(d.ID, factory, m.bus)
		if err := sess.Connect(ctx); err != nil {
			continue
		}
		m.mu.Lock()
		m.sessions[d.ID] = sess
		m.mu.Unlock()
		changed = true
	}

	if changed {
		m.publishDeviceList()
	}
	return nil
}

// GetSession returns the session for deviceID, or a NotFound error.
func (m *Manager) GetSession(deviceID string) (*devicesession.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[deviceID]
	if !ok {
		return nil, labberr.NotFound("getSession", deviceID)
	}
	return s, nil
}

// DeviceSummary is one entry of a deviceList message.
type DeviceSummary struct {
	Info             types.DeviceInfo        `json:"info"`
	ConnectionStatus types.ConnectionStatus  `json:"connectionStatus"`
}

// List returns a snapshot summary of every registered session.
func (m *Manager) List() []DeviceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeviceSummary, 0, len(m.sessions))
	for _, s := range m.sessions {
		st := s.State()
		out = append(out, DeviceSummary{Info: st.Info, ConnectionStatus: st.ConnectionStatus})
	}
	return out
}

func (m *Manager) publishDeviceList() {
	m.bus.Publish(bus.Envelope{Type: bus.TypeDeviceList, Payload: map[string][]DeviceSummary{"devices": m.List()}})
}

// GetDevices triggers a deviceList publish of the current fleet (§6 getDevices).
func (m *Manager) GetDevices() {
	m.publishDeviceList()
}

// Stop tears down every session. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	sessions := make([]*devicesession.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*devicesession.Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
