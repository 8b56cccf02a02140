// Package config holds the tunable constants shared across the control
// plane's components.
package config

import "time"

// Default configuration constants for device sessions, sequences, and
// trigger scripts.
const (
	// PollInterval is the DeviceSession baseline poll period (§4.3).
	PollInterval = 250 * time.Millisecond

	// PollBackoffInterval is the poll period used while a session is
	// recovering from errors, until it succeeds again (§4.3, DESIGN.md
	// Open Question 2: fixed-step, not exponential, back-off).
	PollBackoffInterval = 1 * time.Second

	// MaxConsecutiveErrors is the number of consecutive poll/command
	// failures before a session transitions connected -> error (§4.3).
	MaxConsecutiveErrors = 3

	// DefaultHistoryWindow is the default retained duration of
	// DeviceSessionState.History (§3).
	DefaultHistoryWindow = 2 * time.Minute
	// MinHistoryWindow / MaxHistoryWindow bound the configurable window.
	MinHistoryWindow = 2 * time.Minute
	MaxHistoryWindow = 20 * time.Minute

	// MinIntervalMs is the minimum dwell/scheduling granularity enforced by
	// the sequence controller (§4.7).
	MinIntervalMs int64 = 50

	// MaxLibrarySize bounds how many definitions a SequenceLibrary or
	// TriggerScriptLibrary may hold (§4.6).
	MaxLibrarySize = 10000

	// TriggerTickInterval is how often the TriggerRuntime re-evaluates
	// time-based conditions (§4.9).
	TriggerTickInterval = 100 * time.Millisecond

	// TransportTimeout is the default per-operation Transport timeout
	// (§5). TransportTimeoutScope is declared for scope operations
	// (waveform capture), but no transport or driver reads it: waveform
	// capture runs under the same per-operation timeout as every exchange.
	TransportTimeout      = 2 * time.Second
	TransportTimeoutScope = 10 * time.Second

	// ClientQueueWatermark bounds a subscriber's pending-message queue
	// before measurement messages start being dropped (§4.11).
	ClientQueueWatermark = 256

	// SSEHeartbeatInterval is how often the event stream writes a
	// ":keepalive" comment to hold idle proxies/connections open (§6).
	SSEHeartbeatInterval = 15 * time.Second
)
