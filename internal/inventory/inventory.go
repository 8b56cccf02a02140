// Package inventory loads the static device fleet a labbenchd process is
// configured to manage: a YAML file naming each instrument's id, kind,
// network address and, for oscilloscopes, channel count. Grounded on the
// 99souls-ariadne engine's config.RuntimeConfigManager (yaml.v3 decode +
// sync.RWMutex-guarded snapshot) and HotReloadSystem (fsnotify.Watcher on
// the config file), generalized from that engine's business-policy
// document to a device list and narrowed to reload-only (no checksum
// history or A/B rollout, which this controller has no use for).
package inventory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/types"
)

// Entry describes one instrument in the fleet file.
type Entry struct {
	ID       string          `yaml:"id"`
	Kind     types.DeviceKind `yaml:"kind"`
	Address  string          `yaml:"address"`
	Channels int             `yaml:"channels,omitempty"`
}

// Document is the decoded shape of the fleet YAML file.
type Document struct {
	Devices []Entry `yaml:"devices"`
}

func load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read inventory %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	for i, e := range doc.Devices {
		if e.ID == "" {
			return Document{}, fmt.Errorf("inventory %s: device at index %d missing id", path, i)
		}
	}
	return doc, nil
}

// Enumerator is a sessionmanager.DeviceEnumerator backed by a fleet file.
// Call Watch to pick up edits to the file between Scan calls.
type Enumerator struct {
	path string

	mu      sync.RWMutex
	entries []Entry

	watcher *fsnotify.Watcher
	onChange func()
}

// Open loads path once and returns an Enumerator over its contents.
func Open(path string) (*Enumerator, error) {
	doc, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Enumerator{path: path, entries: doc.Devices}, nil
}

// Enumerate implements sessionmanager.DeviceEnumerator.
func (e *Enumerator) Enumerate(ctx context.Context) ([]sessionmanager.DeviceDescriptor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]sessionmanager.DeviceDescriptor, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, sessionmanager.DeviceDescriptor{ID: entry.ID, Kind: entry.Kind, Address: entry.Address})
	}
	return out, nil
}

// ByAddress looks up the fleet entry dialed at address, used by the driver
// builder to recover the device id and channel count that the
// sessionmanager.DriverBuilder signature doesn't carry directly.
func (e *Enumerator) ByAddress(address string) (Entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, entry := range e.entries {
		if entry.Address == address {
			return entry, true
		}
	}
	return Entry{}, false
}

// Watch starts an fsnotify watch on the fleet file; onChange is invoked
// (from the watcher's goroutine) after every successful reload so the
// caller can re-run Scan. Watch failures are non-fatal: the enumerator
// keeps serving its last-loaded snapshot.
func (e *Enumerator) Watch(onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch inventory: %w", err)
	}
	if err := watcher.Add(e.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch inventory: %w", err)
	}
	e.watcher = watcher
	e.onChange = onChange

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				doc, err := load(e.path)
				if err != nil {
					continue
				}
				e.mu.Lock()
				e.entries = doc.Devices
				e.mu.Unlock()
				if e.onChange != nil {
					e.onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watch, if one was started.
func (e *Enumerator) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}
