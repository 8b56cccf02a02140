// Package sequence implements the SequenceController (C7) and
// SequenceManager (C8): a drift-free, timer-driven playback engine binding
// one SequenceDefinition to one DeviceSession parameter, and the façade
// that owns the single active controller, delegates library CRUD, and
// re-broadcasts its events through the SubscriptionBus.
//
// Grounded on the teacher's runmanager state machine (allow-map,
// labberr-style typed errors) generalized from a multi-stage load-test run
// to a cyclic waveform playback loop.
package sequence

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/config"
	"github.com/labbench/controller/internal/devicesession"
	"github.com/labbench/controller/internal/events"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
	"github.com/labbench/controller/internal/waveform"
)

// Controller is one SequenceDefinition bound to one device parameter.
// At most one Controller is active per Manager (§4.7).
type Controller struct {
	def     types.SequenceDefinition
	cfg     types.SequenceRunConfig
	session *devicesession.Session
	b       *bus.Bus
	logger  *events.EventLogger
	rng     *rand.Rand

	mu           sync.Mutex
	state        types.SequenceState
	steps        []waveform.Step
	schedule     []time.Time
	pauseElapsed time.Duration
	pausedAt     time.Time

	pauseCh  chan struct{}
	resumeCh chan struct{}
	abortCh  chan struct{}
	doneCh   chan struct{}
}

// New constructs an idle Controller. Start must be called to begin playback.
func New(def types.SequenceDefinition, cfg types.SequenceRunConfig, session *devicesession.Session, b *bus.Bus) *Controller {
	return &Controller{
		def:     def,
		cfg:     cfg,
		session: session,
		b:       b,
		logger:  events.GetGlobalEventLogger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		state:   types.SequenceState{SequenceID: def.ID, RunConfig: cfg, ExecutionState: types.SeqIdle},
	}
}

// State returns a snapshot of the controller's published state, with
// ElapsedMs computed live (§4.7: "(now|pausedAt) − startedAt − pauseElapsed").
func (c *Controller) State() types.SequenceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	if !st.StartedAt.IsZero() {
		ref := time.Now()
		if st.ExecutionState == types.SeqPaused {
			ref = c.pausedAt
		}
		st.ElapsedMs = ref.Sub(st.StartedAt.Add(c.pauseElapsed)).Milliseconds()
	}
	return st
}

func totalCyclesFor(cfg types.SequenceRunConfig) (*int, error) {
	switch cfg.RepeatMode {
	case types.RepeatOnce:
		one := 1
		return &one, nil
	case types.RepeatCount:
		if cfg.RepeatCount < 1 {
			return nil, labberr.Precondition("start", cfg.SequenceID, "repeatCount must be >= 1")
		}
		n := cfg.RepeatCount
		return &n, nil
	case types.RepeatContinuous:
		return nil, nil
	default:
		return nil, labberr.Precondition("start", cfg.SequenceID, "unknown repeatMode")
	}
}

func buildSchedule(cycleStart time.Time, steps []waveform.Step) []time.Time {
	out := make([]time.Time, len(steps))
	if len(steps) == 0 {
		return out
	}
	out[0] = cycleStart
	for i := 1; i < len(steps); i++ {
		dwell := steps[i-1].DwellMs
		if dwell < config.MinIntervalMs {
			dwell = config.MinIntervalMs
		}
		out[i] = out[i-1].Add(time.Duration(dwell) * time.Millisecond)
	}
	return out
}

func (c *Controller) applyModifiers(v float64) float64 {
	return waveform.Modifiers{Scale: c.def.Scale, Offset: c.def.Offset, MaxClamp: c.def.MaxClamp}.Apply(v)
}

// materializeSteps builds one cycle's step list from the definition's
// waveform, applying the modifier chain and the slew-rate limiter seeded
// from prev (the last commanded value, or the random-walk start value on
// the very first cycle).
func (c *Controller) materializeSteps(prev float64) []waveform.Step {
	var raw []waveform.Step
	switch c.def.Waveform.Kind {
	case types.WaveformArbitrary:
		raw = waveform.Arbitrary(c.def.Waveform.Steps)
	case types.WaveformRandom:
		raw = waveform.GenerateRandomWalk(c.def.Waveform.Random, prev, c.rng)
	default:
		raw = waveform.Generate(c.def.Waveform.Kind, c.def.Waveform.Parametric)
	}
	mods := waveform.Modifiers{Scale: c.def.Scale, Offset: c.def.Offset, MaxClamp: c.def.MaxClamp}
	steps := waveform.ApplySteps(raw, mods)
	if c.def.MaxSlewRate != nil {
		steps = waveform.ApplySlewLimit(steps, prev, *c.def.MaxSlewRate)
	}
	return steps
}

func (c *Controller) seedValue() float64 {
	if c.def.Waveform.Kind == types.WaveformRandom {
		return c.def.Waveform.Random.StartValue
	}
	return 0
}

// Start materializes the step list, builds the schedule, applies preValue
// if set, and launches the execution goroutine. idle only.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !CanTransition(c.state.ExecutionState, types.SeqRunning) {
		c.mu.Unlock()
		return labberr.State("start", c.cfg.SequenceID, "controller is not idle")
	}
	c.mu.Unlock()

	totalCycles, err := totalCyclesFor(c.cfg)
	if err != nil {
		return err
	}

	steps := c.materializeSteps(c.seedValue())
	now := time.Now()
	schedule := buildSchedule(now, steps)

	c.mu.Lock()
	c.steps = steps
	c.schedule = schedule
	c.pauseElapsed = 0
	c.state = types.SequenceState{
		SequenceID:       c.def.ID,
		RunConfig:        c.cfg,
		ExecutionState:   types.SeqRunning,
		CurrentStepIndex: 0,
		TotalSteps:       len(steps),
		CurrentCycle:     0,
		TotalCycles:      totalCycles,
		StartedAt:        now,
	}
	c.mu.Unlock()

	if c.def.PreValue != nil {
		v := c.applyModifiers(*c.def.PreValue)
		if err := c.session.SetValue(ctx, c.cfg.Parameter, v, true); err != nil {
			return c.fail(err)
		}
	}

	c.pauseCh = make(chan struct{}, 1)
	c.resumeCh = make(chan struct{}, 1)
	c.abortCh = make(chan struct{}, 1)
	c.doneCh = make(chan struct{})

	c.publish(bus.TypeSequenceStarted, c.State())
	go c.run(ctx)
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state.ExecutionState = types.SeqError
	c.state.Error = err.Error()
	snapshot := c.state
	c.mu.Unlock()
	c.publish(bus.TypeSequenceError, snapshot)
	return err
}

// Pause cancels the pending timer and records pausedAt. running only.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if !CanTransition(c.state.ExecutionState, types.SeqPaused) {
		c.mu.Unlock()
		return labberr.State("pause", c.cfg.SequenceID, "controller is not running")
	}
	c.state.ExecutionState = types.SeqPaused
	c.pausedAt = time.Now()
	c.mu.Unlock()
	select {
	case c.pauseCh <- struct{}{}:
	default:
	}
	return nil
}

// Resume shifts the remaining schedule by the pause duration and schedules
// the next step for minIntervalMs out. paused only.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if !CanTransition(c.state.ExecutionState, types.SeqRunning) {
		c.mu.Unlock()
		return labberr.State("resume", c.cfg.SequenceID, "controller is not paused")
	}
	now := time.Now()
	pauseDur := now.Sub(c.pausedAt)
	c.pauseElapsed += pauseDur
	idx := c.state.CurrentStepIndex
	for i := idx + 1; i < len(c.schedule); i++ {
		c.schedule[i] = c.schedule[i].Add(pauseDur)
	}
	if idx < len(c.schedule) {
		c.schedule[idx] = now.Add(time.Duration(config.MinIntervalMs) * time.Millisecond)
	}
	c.state.ExecutionState = types.SeqRunning
	c.mu.Unlock()
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Abort cancels pending work, applies postValue if set, and returns to
// idle. running or paused only. Blocks until the execution goroutine has
// fully unwound.
func (c *Controller) Abort() error {
	c.mu.Lock()
	cur := c.state.ExecutionState
	c.mu.Unlock()
	if !CanTransition(cur, types.SeqIdle) {
		return labberr.State("abort", c.cfg.SequenceID, "controller is not running or paused")
	}
	select {
	case c.abortCh <- struct{}{}:
	default:
	}
	<-c.doneCh
	return nil
}

func (c *Controller) doAbort(ctx context.Context) {
	if c.def.PostValue != nil {
		v := c.applyModifiers(*c.def.PostValue)
		_ = c.session.SetValue(ctx, c.cfg.Parameter, v, true)
	}
	c.mu.Lock()
	c.state.ExecutionState = types.SeqIdle
	snapshot := c.state
	c.mu.Unlock()
	c.publish(bus.TypeSequenceAborted, snapshot)
}

func (c *Controller) publish(t bus.MessageType, state types.SequenceState) {
	c.b.Publish(bus.Envelope{Type: t, Payload: state})
}

// run drives the execution loop: fire step 0 immediately, then wait for
// each step's scheduled time via a single pending timer, honoring
// pause/resume/abort signals in between (§4.7, §5).
func (c *Controller) run(ctx context.Context) {
	defer close(c.doneCh)

	if c.fireAndAdvance(ctx, true) {
		return
	}

	for {
		c.mu.Lock()
		idx := c.state.CurrentStepIndex
		target := c.schedule[idx]
		c.mu.Unlock()

		wait := time.Until(target)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-c.abortCh:
			timer.Stop()
			c.doAbort(ctx)
			return
		case <-c.pauseCh:
			timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-c.abortCh:
				c.doAbort(ctx)
				return
			case <-c.resumeCh:
			}
		case <-timer.C:
			if c.fireAndAdvance(ctx, false) {
				return
			}
		}
	}
}

// fireAndAdvance commands the current step's value (applying the
// frame-dropping policy when running behind schedule), then advances to
// the next step or cycle. Returns true if the controller has terminated
// (completed or error).
func (c *Controller) fireAndAdvance(ctx context.Context, first bool) bool {
	c.mu.Lock()
	idx := c.state.CurrentStepIndex
	if !first {
		now := time.Now()
		for idx < len(c.steps)-1 && now.After(c.schedule[idx].Add(time.Duration(c.steps[idx].DwellMs)*time.Millisecond)) {
			idx++
		}
		c.state.CurrentStepIndex = idx
	}
	step := c.steps[idx]
	c.mu.Unlock()

	if err := c.session.SetValue(ctx, c.cfg.Parameter, step.Value, true); err != nil {
		c.mu.Lock()
		c.state.ExecutionState = types.SeqError
		c.state.Error = err.Error()
		snapshot := c.state
		c.mu.Unlock()
		c.publish(bus.TypeSequenceError, snapshot)
		return true
	}

	c.mu.Lock()
	c.state.CommandedValue = step.Value
	snapshot := c.state
	c.mu.Unlock()
	c.publish(bus.TypeSequenceProgress, snapshot)

	return c.advance(ctx)
}

func (c *Controller) advance(ctx context.Context) bool {
	c.mu.Lock()
	nextIdx := c.state.CurrentStepIndex + 1
	if nextIdx < len(c.steps) {
		c.state.CurrentStepIndex = nextIdx
		c.mu.Unlock()
		return false
	}
	c.state.CurrentCycle++
	terminal := c.state.TotalCycles != nil && c.state.CurrentCycle >= *c.state.TotalCycles
	lastValue := c.state.CommandedValue
	lastDwellMs := c.steps[len(c.steps)-1].DwellMs
	c.mu.Unlock()

	if terminal {
		if c.def.PostValue != nil {
			v := c.applyModifiers(*c.def.PostValue)
			_ = c.session.SetValue(ctx, c.cfg.Parameter, v, true)
		}
		c.mu.Lock()
		c.state.ExecutionState = types.SeqCompleted
		c.state.CurrentStepIndex = 0
		snapshot := c.state
		c.mu.Unlock()
		c.publish(bus.TypeSequenceCompleted, snapshot)
		return true
	}

	newSteps := c.materializeSteps(lastValue)
	dwell := lastDwellMs
	if dwell < config.MinIntervalMs {
		dwell = config.MinIntervalMs
	}
	cycleStart := time.Now().Add(time.Duration(dwell) * time.Millisecond)
	schedule := buildSchedule(cycleStart, newSteps)

	c.mu.Lock()
	c.steps = newSteps
	c.schedule = schedule
	c.state.CurrentStepIndex = 0
	c.state.TotalSteps = len(newSteps)
	c.mu.Unlock()
	return false
}
