// Package events provides structured logging of domain lifecycle events —
// session connects/errors, sequence/trigger transitions — independent of
// the SubscriptionBus, which pushes the same moments to web clients. This
// logger is for operators tailing server logs.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger logs structured JSON events for operators.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger with JSON output to stdout.
func NewEventLogger() *EventLogger {
	return NewEventLoggerWithWriter(os.Stdout)
}

// NewEventLoggerWithWriter creates an EventLogger writing to w (tests, or a
// redirected log sink).
func NewEventLoggerWithWriter(w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &EventLogger{logger: slog.New(handler)}
}

// LogSessionCreated logs a device session's first successful connect.
// event: "session_created"
func (el *EventLogger) LogSessionCreated(deviceID string, kind string) {
	el.logger.Info("session_created", "device_id", deviceID, "kind", kind)
}

// LogSessionDestroyed logs a device session's removal from the registry.
// event: "session_destroyed"
func (el *EventLogger) LogSessionDestroyed(deviceID, reason string) {
	el.logger.Info("session_destroyed", "device_id", deviceID, "reason", reason)
}

// LogReconnect logs a session's attempt to recover from an error state.
// event: "reconnect"
func (el *EventLogger) LogReconnect(deviceID string, attempt int, reason string) {
	el.logger.Info("reconnect", "device_id", deviceID, "attempt", attempt, "reason", reason)
}

// LogSessionError logs a session's transition into the error state.
// event: "session_error"
func (el *EventLogger) LogSessionError(deviceID string, consecutiveErrors int, reason string) {
	el.logger.Warn("session_error", "device_id", deviceID, "consecutive_errors", consecutiveErrors, "reason", reason)
}

// LogSequenceTransition logs a sequence execution-state change.
// event: "sequence_transition"
func (el *EventLogger) LogSequenceTransition(sequenceID, runID, from, to, reason string) {
	el.logger.Info("sequence_transition",
		"sequence_id", sequenceID,
		"run_id", runID,
		"from", from,
		"to", to,
		"reason", reason,
	)
}

// LogTriggerFired logs a trigger's condition-met evaluation.
// event: "trigger_fired"
func (el *EventLogger) LogTriggerFired(scriptID, triggerID string, firedCount int) {
	el.logger.Info("trigger_fired", "script_id", scriptID, "trigger_id", triggerID, "fired_count", firedCount)
}

// LogTriggerActionFailed logs a trigger action dispatch failure.
// event: "trigger_action_failed"
func (el *EventLogger) LogTriggerActionFailed(scriptID, triggerID, reason string) {
	el.logger.Warn("trigger_action_failed", "script_id", scriptID, "trigger_id", triggerID, "reason", reason)
}

// Global logger management, mirroring the teacher's package-level
// get/set-with-noop-fallback convention.
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
	noopLogger   = NoopEventLogger()
)

// SetGlobalEventLogger sets the process-wide event logger.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the process-wide event logger, or a shared
// no-op logger instance if none has been set.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return noopLogger
}

// NoopEventLogger discards all events. Used in tests and before startup
// wiring sets the real global logger.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &EventLogger{logger: slog.New(handler)}
}
