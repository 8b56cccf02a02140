// Package bus implements the SubscriptionBus (C11): an in-process
// publish/subscribe fan-out from device sessions, sequence controllers, and
// trigger runtimes to many connected web clients, with per-client
// backpressure (§4.11). It plays the role the teacher's run event log +
// handleStreamEvents SSE handler play together, generalized from one
// cursor-replayable log per run to a live broadcast with no replay.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/labbench/controller/internal/config"
)

// MessageType enumerates the server-push catalog of §6.
type MessageType string

const (
	TypeDeviceList             MessageType = "deviceList"
	TypeSubscribed             MessageType = "subscribed"
	TypeMeasurement            MessageType = "measurement"
	TypeField                  MessageType = "field"
	TypeError                  MessageType = "error"
	TypeSequenceStarted        MessageType = "sequenceStarted"
	TypeSequenceProgress       MessageType = "sequenceProgress"
	TypeSequenceCompleted      MessageType = "sequenceCompleted"
	TypeSequenceAborted        MessageType = "sequenceAborted"
	TypeSequenceError          MessageType = "sequenceError"
	TypeSequenceLibrary        MessageType = "sequenceLibrary"
	TypeSequenceLibrarySaved   MessageType = "sequenceLibrarySaved"
	TypeSequenceLibraryDeleted MessageType = "sequenceLibraryDeleted"
	TypeTriggerScriptStarted   MessageType = "triggerScriptStarted"
	TypeTriggerScriptProgress  MessageType = "triggerScriptProgress"
	TypeTriggerScriptStopped   MessageType = "triggerScriptStopped"
	TypeTriggerScriptPaused    MessageType = "triggerScriptPaused"
	TypeTriggerScriptResumed   MessageType = "triggerScriptResumed"
	TypeTriggerScriptError     MessageType = "triggerScriptError"
	TypeTriggerScriptLibrary   MessageType = "triggerScriptLibrary"
	TypeTriggerFired           MessageType = "triggerFired"
	TypeTriggerActionFailed    MessageType = "triggerActionFailed"
)

// droppable reports whether a message of this type may be dropped under
// backpressure. Per §4.11, only measurement updates are droppable; field
// changes, terminal sequence/trigger events, and errors are never dropped.
func (m MessageType) droppable() bool {
	return m == TypeMeasurement
}

// Envelope is one message on the bus.
type Envelope struct {
	Type MessageType
	// DeviceID scopes delivery to clients subscribed to that device.
	// Empty means a global message delivered to every connected client.
	DeviceID string
	// TargetClientID, when set, delivers only to that one client
	// regardless of its subscription set (used for the "subscribed"
	// snapshot reply).
	TargetClientID string
	Payload        interface{}
}

type client struct {
	id        string
	ch        chan Envelope
	mu        sync.Mutex
	devices   map[string]struct{}
	droppedMu sync.Mutex
}

// Bus is the process-wide SubscriptionBus.
type Bus struct {
	mu       sync.RWMutex
	clients  map[string]*client
	watermark int

	dropped atomic.Int64
}

// New creates a Bus whose per-client queue holds up to watermark
// messages before droppable messages begin being discarded.
func New(watermark int) *Bus {
	if watermark <= 0 {
		watermark = config.ClientQueueWatermark
	}
	return &Bus{clients: make(map[string]*client), watermark: watermark}
}

// Connect registers clientID and returns its receive channel. Reconnecting
// with the same clientID replaces the previous channel.
func (b *Bus) Connect(clientID string) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &client{id: clientID, ch: make(chan Envelope, b.watermark), devices: make(map[string]struct{})}
	b.clients[clientID] = c
	return c.ch
}

// Disconnect removes clientID and closes its channel.
func (b *Bus) Disconnect(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[clientID]; ok {
		close(c.ch)
		delete(b.clients, clientID)
	}
}

// SubscribeDevice adds deviceID to clientID's device-scoped interest set.
func (b *Bus) SubscribeDevice(clientID, deviceID string) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.devices[deviceID] = struct{}{}
	c.mu.Unlock()
}

// UnsubscribeDevice removes deviceID from clientID's interest set.
func (b *Bus) UnsubscribeDevice(clientID, deviceID string) {
	b.mu.RLock()
	c, ok := b.clients[clientID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	delete(c.devices, deviceID)
	c.mu.Unlock()
}

// DroppedCount reports how many droppable messages have been discarded
// under backpressure since startup.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// Publish delivers env to the targeted client, the device-scoped
// subscribers, or every connected client, per env's addressing fields.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if env.TargetClientID != "" {
		if c, ok := b.clients[env.TargetClientID]; ok {
			b.deliver(c, env)
		}
		return
	}

	for _, c := range b.clients {
		if env.DeviceID != "" {
			c.mu.Lock()
			_, interested := c.devices[env.DeviceID]
			c.mu.Unlock()
			if !interested {
				continue
			}
		}
		b.deliver(c, env)
	}
}

func (b *Bus) deliver(c *client, env Envelope) {
	select {
	case c.ch <- env:
		return
	default:
	}
	if !env.Type.droppable() {
		// Never drop: block briefly isn't acceptable either (would stall
		// the publisher for a slow client), so make room by evicting the
		// oldest droppable message first, then retry once.
		select {
		case old := <-c.ch:
			if !old.Type.droppable() {
				// queue is saturated with non-droppable messages; put it
				// back and give up rather than lose a critical message.
				select {
				case c.ch <- old:
				default:
				}
				return
			}
			b.dropped.Add(1)
		default:
		}
		select {
		case c.ch <- env:
		default:
		}
		return
	}
	b.dropped.Add(1)
}
