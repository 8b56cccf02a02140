// Package trigger implements the TriggerRuntime (C9) and
// TriggerScriptManager (C10): a single-threaded cooperative rule evaluator
// binding one TriggerScript to the SessionManager and SequenceManager, and
// the façade that owns the one active runtime and the trigger-script
// library.
//
// Grounded on the teacher's stopconditions.Evaluator (windowed/ticker-driven
// polling, sustain-count debounce, OnTrigger callback), generalized from a
// single stop-the-run condition to many named, independently re-arming
// triggers evaluated over both a periodic tick and a live measurement
// stream.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/config"
	"github.com/labbench/controller/internal/devicesession"
	"github.com/labbench/controller/internal/events"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/sequence"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/types"
)

// Runtime is one TriggerScript bound to the live session and sequence
// managers. At most one Runtime is active per Manager (§4.9).
type Runtime struct {
	script   types.TriggerScript
	sessions *sessionmanager.Manager
	seqMgr   *sequence.Manager
	b        *bus.Bus
	logger   *events.EventLogger

	mu           sync.Mutex
	state        types.TriggerScriptState
	pauseElapsed time.Duration
	pausedAt     time.Time
	latest       map[string]map[string]float64

	clientID  string
	measureCh <-chan bus.Envelope
	pauseCh   chan struct{}
	resumeCh  chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs an idle Runtime. Start must be called to begin evaluation.
func New(script types.TriggerScript, sessions *sessionmanager.Manager, seqMgr *sequence.Manager, b *bus.Bus) *Runtime {
	return &Runtime{
		script:   script,
		sessions: sessions,
		seqMgr:   seqMgr,
		b:        b,
		logger:   events.GetGlobalEventLogger(),
		latest:   make(map[string]map[string]float64),
		state:    types.TriggerScriptState{ScriptID: script.ID, ExecutionState: types.ScriptIdle},
	}
}

// State returns a snapshot of the runtime's published state, with
// ElapsedMs computed live.
func (r *Runtime) State() types.TriggerScriptState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state
	st.TriggerStates = append([]types.TriggerState{}, r.state.TriggerStates...)
	if !st.StartedAt.IsZero() {
		ref := time.Now()
		if st.ExecutionState == types.ScriptPaused {
			ref = r.pausedAt
		}
		st.ElapsedMs = ref.Sub(st.StartedAt.Add(r.pauseElapsed)).Milliseconds()
	}
	return st
}

// Start subscribes to every device referenced by a value condition, resets
// per-trigger counters, and launches the evaluation goroutine. idle only.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if !CanTransition(r.state.ExecutionState, types.ScriptRunning) {
		r.mu.Unlock()
		return labberr.State("start", r.script.ID, "runtime is not idle")
	}
	r.mu.Unlock()

	r.clientID = fmt.Sprintf("trigger-runtime-%s", r.script.ID)
	r.measureCh = r.b.Connect(r.clientID)

	seen := map[string]struct{}{}
	for _, trig := range r.script.Triggers {
		if trig.Condition.Kind != types.ConditionValue {
			continue
		}
		deviceID := trig.Condition.DeviceID
		if _, ok := seen[deviceID]; ok {
			continue
		}
		seen[deviceID] = struct{}{}
		session, err := r.sessions.GetSession(deviceID)
		if err != nil {
			continue
		}
		session.Subscribe(r.clientID)
	}

	now := time.Now()
	triggerStates := make([]types.TriggerState, len(r.script.Triggers))
	for i, trig := range r.script.Triggers {
		triggerStates[i] = types.TriggerState{TriggerID: trig.ID}
	}

	r.mu.Lock()
	r.pauseElapsed = 0
	r.state = types.TriggerScriptState{
		ScriptID:       r.script.ID,
		ExecutionState: types.ScriptRunning,
		StartedAt:      now,
		TriggerStates:  triggerStates,
	}
	r.mu.Unlock()

	r.pauseCh = make(chan struct{}, 1)
	r.resumeCh = make(chan struct{}, 1)
	r.stopCh = make(chan struct{}, 1)
	r.doneCh = make(chan struct{})

	r.publish(bus.TypeTriggerScriptStarted)
	go r.run(ctx)
	return nil
}

// Stop cancels evaluation and unsubscribes from every device. running or
// paused only. Blocks until the evaluation goroutine has fully unwound.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	cur := r.state.ExecutionState
	r.mu.Unlock()
	if !CanTransition(cur, types.ScriptIdle) {
		return labberr.State("stop", r.script.ID, "runtime is not running or paused")
	}
	select {
	case r.stopCh <- struct{}{}:
	default:
	}
	<-r.doneCh
	return nil
}

// Pause suspends evaluation without resetting any counters. running only.
func (r *Runtime) Pause() error {
	r.mu.Lock()
	if !CanTransition(r.state.ExecutionState, types.ScriptPaused) {
		r.mu.Unlock()
		return labberr.State("pause", r.script.ID, "runtime is not running")
	}
	r.state.ExecutionState = types.ScriptPaused
	r.pausedAt = time.Now()
	r.mu.Unlock()
	select {
	case r.pauseCh <- struct{}{}:
	default:
	}
	r.publish(bus.TypeTriggerScriptPaused)
	return nil
}

// Resume resumes evaluation, extending elapsed-time bookkeeping by the
// pause duration. paused only.
func (r *Runtime) Resume() error {
	r.mu.Lock()
	if !CanTransition(r.state.ExecutionState, types.ScriptRunning) {
		r.mu.Unlock()
		return labberr.State("resume", r.script.ID, "runtime is not paused")
	}
	r.pauseElapsed += time.Since(r.pausedAt)
	r.state.ExecutionState = types.ScriptRunning
	r.mu.Unlock()
	select {
	case r.resumeCh <- struct{}{}:
	default:
	}
	r.publish(bus.TypeTriggerScriptResumed)
	return nil
}

func (r *Runtime) doStop() {
	for _, trig := range r.script.Triggers {
		if trig.Condition.Kind != types.ConditionValue {
			continue
		}
		if session, err := r.sessions.GetSession(trig.Condition.DeviceID); err == nil {
			session.Unsubscribe(r.clientID)
		}
	}
	r.b.Disconnect(r.clientID)

	r.mu.Lock()
	r.state.ExecutionState = types.ScriptIdle
	r.mu.Unlock()
	r.publish(bus.TypeTriggerScriptStopped)
}

func (r *Runtime) publish(t bus.MessageType) {
	r.b.Publish(bus.Envelope{Type: t, Payload: r.State()})
}

// run is the single-threaded evaluation loop: a periodic tick drives
// time-based triggers, and the device measurement stream drives
// value-based triggers. Exactly one of these is processed to completion —
// including any fired actions — before the next is picked up (§4.9).
func (r *Runtime) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(config.TriggerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			r.doStop()
			return
		case <-r.pauseCh:
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				r.doStop()
				return
			case <-r.resumeCh:
			}
		case env, ok := <-r.measureCh:
			if !ok {
				return
			}
			r.handleEnvelope(ctx, env)
		case now := <-ticker.C:
			r.evaluateTimeTriggers(ctx, now)
		}
	}
}

func (r *Runtime) handleEnvelope(ctx context.Context, env bus.Envelope) {
	switch env.Type {
	case bus.TypeMeasurement:
		update, ok := env.Payload.(devicesession.MeasurementUpdate)
		if !ok {
			return
		}
		r.mu.Lock()
		if r.latest[env.DeviceID] == nil {
			r.latest[env.DeviceID] = make(map[string]float64)
		}
		for k, v := range update.Measurements {
			r.latest[env.DeviceID][k] = v
		}
		r.mu.Unlock()
		r.evaluateValueTriggers(ctx, time.Now())
	case bus.TypeSubscribed:
		snap, ok := env.Payload.(types.DeviceSessionState)
		if !ok {
			return
		}
		r.mu.Lock()
		if r.latest[env.DeviceID] == nil {
			r.latest[env.DeviceID] = make(map[string]float64)
		}
		for k, v := range snap.Measurements {
			r.latest[env.DeviceID][k] = v
		}
		r.mu.Unlock()
	}
}

func (r *Runtime) evaluateTimeTriggers(ctx context.Context, now time.Time) {
	r.mu.Lock()
	elapsed := now.Sub(r.state.StartedAt.Add(r.pauseElapsed)).Milliseconds()
	r.state.ElapsedMs = elapsed
	r.mu.Unlock()

	for i, trig := range r.script.Triggers {
		if trig.Condition.Kind != types.ConditionTime {
			continue
		}
		r.maybeFireTime(ctx, i, trig, elapsed, now)
	}
	r.publish(bus.TypeTriggerScriptProgress)
}

func (r *Runtime) maybeFireTime(ctx context.Context, idx int, trig types.Trigger, elapsedMs int64, now time.Time) {
	thresholdMs := int64(trig.Condition.Seconds * 1000)

	r.mu.Lock()
	lastFired := r.state.TriggerStates[idx].LastFiredAt
	r.mu.Unlock()

	var shouldFire bool
	switch {
	case lastFired == nil:
		shouldFire = elapsedMs >= thresholdMs
	case trig.RepeatMode == types.TriggerRepeat:
		shouldFire = now.Sub(*lastFired) >= time.Duration(thresholdMs)*time.Millisecond
	default:
		shouldFire = false
	}
	if !shouldFire {
		return
	}
	r.fire(ctx, idx, trig, now)
}

func (r *Runtime) evaluateValueTriggers(ctx context.Context, now time.Time) {
	for i, trig := range r.script.Triggers {
		if trig.Condition.Kind != types.ConditionValue {
			continue
		}
		r.mu.Lock()
		v, ok := r.latest[trig.Condition.DeviceID][trig.Condition.Parameter]
		r.mu.Unlock()
		if !ok {
			continue
		}
		met := trig.Condition.Operator.Compare(v, trig.Condition.Value)

		r.mu.Lock()
		prevMet := r.state.TriggerStates[i].ConditionMet
		r.state.TriggerStates[i].ConditionMet = met
		r.mu.Unlock()

		if met && !prevMet {
			r.fire(ctx, i, trig, now)
		}
	}
	r.publish(bus.TypeTriggerScriptProgress)
}

func (r *Runtime) fire(ctx context.Context, idx int, trig types.Trigger, now time.Time) {
	r.mu.Lock()
	st := &r.state.TriggerStates[idx]
	if trig.DebounceMs > 0 && st.LastFiredAt != nil && now.Sub(*st.LastFiredAt) < time.Duration(trig.DebounceMs)*time.Millisecond {
		r.mu.Unlock()
		return
	}
	if trig.RepeatMode == types.TriggerOnce && st.FiredCount > 0 {
		r.mu.Unlock()
		return
	}
	st.FiredCount++
	firedAt := now
	st.LastFiredAt = &firedAt
	firedCount := st.FiredCount
	r.mu.Unlock()

	if err := r.dispatch(ctx, trig.Action); err != nil {
		r.logger.LogTriggerActionFailed(r.script.ID, trig.ID, err.Error())
		r.b.Publish(bus.Envelope{Type: bus.TypeTriggerActionFailed, Payload: map[string]interface{}{
			"scriptId": r.script.ID, "triggerId": trig.ID, "actionType": string(trig.Action.Kind), "error": err.Error(),
		}})
	}

	r.logger.LogTriggerFired(r.script.ID, trig.ID, firedCount)
	r.b.Publish(bus.Envelope{Type: bus.TypeTriggerFired, Payload: map[string]interface{}{
		"scriptId": r.script.ID, "triggerId": trig.ID, "firedCount": firedCount,
	}})
}

func (r *Runtime) dispatch(ctx context.Context, action types.Action) error {
	switch action.Kind {
	case types.ActionSetValue:
		session, err := r.sessions.GetSession(action.DeviceID)
		if err != nil {
			return err
		}
		return session.SetValue(ctx, action.Parameter, action.Value, true)
	case types.ActionSetOutput:
		session, err := r.sessions.GetSession(action.DeviceID)
		if err != nil {
			return err
		}
		return session.SetOutput(ctx, action.Enabled)
	case types.ActionSetMode:
		session, err := r.sessions.GetSession(action.DeviceID)
		if err != nil {
			return err
		}
		return session.SetMode(ctx, action.Mode)
	case types.ActionStartSequence:
		cfg := types.SequenceRunConfig{
			SequenceID:  action.SequenceID,
			DeviceID:    action.DeviceID,
			Parameter:   action.RunParam,
			RepeatMode:  action.RepeatMode,
			RepeatCount: action.RepeatCount,
		}
		_, err := r.seqMgr.Run(ctx, cfg)
		return err
	case types.ActionStopSequence:
		return r.seqMgr.Abort()
	case types.ActionPauseSequence:
		return r.seqMgr.Pause()
	default:
		return labberr.Precondition("dispatch", r.script.ID, "unknown action kind")
	}
}
