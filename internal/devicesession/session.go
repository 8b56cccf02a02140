// Package devicesession implements the DeviceSession (C3): a per-instrument
// state machine that owns one Driver, publishes the canonical
// DeviceSessionState to the SubscriptionBus, serializes outgoing commands,
// and polls measurements, surviving transient transport errors (§4.3).
package devicesession

import (
	"context"
	"sync"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/config"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/events"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
)

// MeasurementUpdate is the payload of a bus.TypeMeasurement envelope.
type MeasurementUpdate struct {
	Timestamp    time.Time          `json:"timestamp"`
	Measurements map[string]float64 `json:"measurements"`
}

// FieldUpdate is the payload of a bus.TypeField envelope.
type FieldUpdate struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// Factory (re)dials the instrument and returns a ready Driver. Called on
// initial connect and on every reconnect.
type Factory func(ctx context.Context) (driver.Driver, error)

type command struct {
	run      func(ctx context.Context) error
	resultCh chan error
}

// Session owns one instrument's live state and command queue.
type Session struct {
	id      string
	factory Factory
	b       *bus.Bus
	logger  *events.EventLogger

	historyWindow time.Duration

	mu    sync.RWMutex
	drv   driver.Driver
	state types.DeviceSessionState

	userCmdCh chan command
	cancel    context.CancelFunc
	stoppedCh chan struct{}
}

// New constructs a Session for a device not yet connected. Connect must be
// called to dial the instrument and start the poll/command loop.
func New(id string, factory Factory, b *bus.Bus) *Session {
	return &Session{
		id:            id,
		factory:       factory,
		b:             b,
		logger:        events.GetGlobalEventLogger(),
		historyWindow: config.DefaultHistoryWindow,
		userCmdCh:     make(chan command, 16),
		state: types.DeviceSessionState{
			ConnectionStatus: types.StatusDisconnected,
			Setpoints:        map[string]float64{},
			Measurements:     map[string]float64{},
		},
	}
}

// ID returns the device identifier.
func (s *Session) ID() string { return s.id }

// State returns a deep-enough copy of the current published state.
func (s *Session) State() types.DeviceSessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Connect dials the instrument, describes it, and starts the session's
// single goroutine (poll loop + command queue).
func (s *Session) Connect(ctx context.Context) error {
	drv, err := s.factory(ctx)
	if err != nil {
		return labberr.Transport("connect", s.id, err)
	}
	info, caps, err := drv.Describe(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !CanTransition(s.state.ConnectionStatus, types.StatusConnected) {
		s.mu.Unlock()
		return labberr.State("connect", s.id, "session already connected")
	}
	s.drv = drv
	s.state.Info = info
	s.state.Capabilities = caps
	s.state.ConnectionStatus = types.StatusConnected
	s.state.ConsecutiveErrors = 0
	s.state.LastUpdated = time.Now()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stoppedCh = make(chan struct{})
	go s.run(runCtx)

	s.logger.LogSessionCreated(s.id, string(info.Type))
	return nil
}

// Reconnect re-dials the instrument from the error state.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.RLock()
	status := s.state.ConnectionStatus
	attempts := s.state.ConsecutiveErrors
	s.mu.RUnlock()
	if status != types.StatusError && status != types.StatusDisconnected {
		return labberr.State("reconnect", s.id, "session is not in error or disconnected state")
	}
	drv, err := s.factory(ctx)
	if err != nil {
		s.logger.LogReconnect(s.id, attempts, err.Error())
		return labberr.Transport("reconnect", s.id, err)
	}
	s.mu.Lock()
	s.drv = drv
	s.state.ConnectionStatus = types.StatusConnected
	s.state.ConsecutiveErrors = 0
	s.mu.Unlock()
	s.logger.LogReconnect(s.id, attempts, "reconnected")
	s.publishField("connectionStatus", types.StatusConnected)
	return nil
}

// Stop cancels the session's goroutine and transitions to disconnected.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.stoppedCh
	}
	s.mu.Lock()
	s.state.ConnectionStatus = types.StatusDisconnected
	s.mu.Unlock()
	s.logger.LogSessionDestroyed(s.id, "stopped")
}

// Subscribe registers clientID for this device's scoped messages and
// immediately publishes a "subscribed" snapshot to that client only.
func (s *Session) Subscribe(clientID string) {
	s.b.SubscribeDevice(clientID, s.id)
	s.b.Publish(bus.Envelope{
		Type:           bus.TypeSubscribed,
		TargetClientID: clientID,
		DeviceID:       s.id,
		Payload:        s.State(),
	})
}

// Unsubscribe removes clientID's interest in this device's scoped messages.
func (s *Session) Unsubscribe(clientID string) {
	s.b.UnsubscribeDevice(clientID, s.id)
}

// SetMode validates and applies a mode change, optimistically updating
// state before calling the driver and reverting on failure.
func (s *Session) SetMode(ctx context.Context, name string) error {
	return s.submit(ctx, func(dctx context.Context) error { return s.doSetMode(dctx, name) })
}

// SetOutput enables/disables the instrument output.
func (s *Session) SetOutput(ctx context.Context, enabled bool) error {
	return s.submit(ctx, func(dctx context.Context) error { return s.doSetOutput(dctx, enabled) })
}

// SetValue sets a commandable output. immediate bypasses any future
// UI-originated coalescing; it does not affect queue ordering, since every
// command already traverses the same single-writer queue.
func (s *Session) SetValue(ctx context.Context, name string, value float64, immediate bool) error {
	return s.submit(ctx, func(dctx context.Context) error { return s.doSetValue(dctx, name, value) })
}

func (s *Session) submit(ctx context.Context, run func(ctx context.Context) error) error {
	cmd := command{run: run, resultCh: make(chan error, 1)}
	select {
	case s.userCmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) doSetMode(ctx context.Context, name string) error {
	s.mu.Lock()
	if !s.state.Capabilities.ModesSettable || !s.state.Capabilities.HasMode(name) {
		s.mu.Unlock()
		return labberr.Precondition("setMode", s.id, "mode not settable or not declared")
	}
	prev := s.state.Mode
	s.state.Mode = name
	s.mu.Unlock()

	if err := s.drv.SetMode(ctx, name); err != nil {
		s.mu.Lock()
		s.state.Mode = prev
		s.mu.Unlock()
		s.recordCommandFailure("setMode", err)
		return err
	}
	s.publishField("mode", name)
	return nil
}

func (s *Session) doSetOutput(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	prev := s.state.OutputEnabled
	s.state.OutputEnabled = enabled
	s.mu.Unlock()

	if err := s.drv.SetOutput(ctx, enabled); err != nil {
		s.mu.Lock()
		s.state.OutputEnabled = prev
		s.mu.Unlock()
		s.recordCommandFailure("setOutput", err)
		return err
	}
	s.publishField("outputEnabled", enabled)
	return nil
}

func (s *Session) doSetValue(ctx context.Context, name string, value float64) error {
	s.mu.Lock()
	desc, ok := s.state.Capabilities.Output(name)
	if !ok {
		s.mu.Unlock()
		return labberr.Precondition("setValue", s.id, "name not in capabilities.outputs")
	}
	if value < desc.Min || value > desc.Max {
		s.mu.Unlock()
		return labberr.Precondition("setValue", s.id, "value out of [min,max]")
	}
	prev, had := s.state.Setpoints[name]
	s.state.Setpoints[name] = value
	s.mu.Unlock()

	if err := s.drv.SetValue(ctx, name, value); err != nil {
		s.mu.Lock()
		if had {
			s.state.Setpoints[name] = prev
		} else {
			delete(s.state.Setpoints, name)
		}
		s.mu.Unlock()
		s.recordCommandFailure("setValue", err)
		return err
	}
	s.publishField("setpoints."+name, value)
	return nil
}

// recordCommandFailure increments the consecutive-error count and emits a
// device-scoped error message, per §4.3's command-failure behavior. Like
// recordPollFailure, it moves the session to error and surfaces a
// connectionStatus change once the count reaches MaxConsecutiveErrors; unlike
// it, every command failure also gets its own error message.
func (s *Session) recordCommandFailure(op string, cause error) {
	s.mu.Lock()
	s.state.ConsecutiveErrors++
	enteringError := s.state.ConsecutiveErrors >= config.MaxConsecutiveErrors && s.state.ConnectionStatus != types.StatusError
	if enteringError {
		s.state.ConnectionStatus = types.StatusError
	}
	count := s.state.ConsecutiveErrors
	s.mu.Unlock()
	s.b.Publish(bus.Envelope{Type: bus.TypeError, DeviceID: s.id, Payload: map[string]string{
		"code": op + "_failed", "message": cause.Error(),
	}})
	if enteringError {
		s.logger.LogSessionError(s.id, count, cause.Error())
		s.publishField("connectionStatus", types.StatusError)
	}
}

func (s *Session) publishField(field string, value interface{}) {
	s.b.Publish(bus.Envelope{Type: bus.TypeField, DeviceID: s.id, Payload: FieldUpdate{Field: field, Value: value}})
}

// run is the session's single goroutine: it drains user commands ahead of
// scheduled polls, per §4.3's "user commands take priority" rule.
func (s *Session) run(ctx context.Context) {
	defer close(s.stoppedCh)
	timer := time.NewTimer(s.pollInterval())
	defer timer.Stop()

	for {
		for drained := false; !drained; {
			select {
			case cmd := <-s.userCmdCh:
				cmd.resultCh <- cmd.run(ctx)
			default:
				drained = true
			}
		}

		select {
		case <-ctx.Done():
			return
		case cmd := <-s.userCmdCh:
			cmd.resultCh <- cmd.run(ctx)
		case <-timer.C:
			s.poll(ctx)
			timer.Reset(s.pollInterval())
		}
	}
}

func (s *Session) pollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.ConnectionStatus == types.StatusError {
		return config.PollBackoffInterval
	}
	return config.PollInterval
}

// poll reads instrument status and updates measurements/outputEnabled,
// never overwriting mode or setpoints (those remain user-authoritative).
func (s *Session) poll(ctx context.Context) {
	s.mu.RLock()
	drv := s.drv
	s.mu.RUnlock()
	if drv == nil {
		return
	}

	status, err := drv.ReadStatus(ctx)
	if err != nil {
		s.recordPollFailure(err)
		return
	}

	now := time.Now()
	s.mu.Lock()
	recovered := s.state.ConnectionStatus == types.StatusError
	s.state.ConnectionStatus = types.StatusConnected
	s.state.ConsecutiveErrors = 0
	s.state.OutputEnabled = status.OutputEnabled
	s.state.Measurements = status.Measurements
	windowMs := int64(s.historyWindow / time.Millisecond)
	s.state.History.Append(now, status.Measurements, windowMs)
	s.state.LastUpdated = now
	snapshot := make(map[string]float64, len(status.Measurements))
	for k, v := range status.Measurements {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if recovered {
		s.publishField("connectionStatus", types.StatusConnected)
	}
	s.b.Publish(bus.Envelope{
		Type:     bus.TypeMeasurement,
		DeviceID: s.id,
		Payload:  MeasurementUpdate{Timestamp: now, Measurements: snapshot},
	})
}

func (s *Session) recordPollFailure(cause error) {
	s.mu.Lock()
	s.state.ConsecutiveErrors++
	enteringError := s.state.ConsecutiveErrors >= config.MaxConsecutiveErrors && s.state.ConnectionStatus != types.StatusError
	if enteringError {
		s.state.ConnectionStatus = types.StatusError
	}
	count := s.state.ConsecutiveErrors
	s.mu.Unlock()

	if enteringError {
		s.logger.LogSessionError(s.id, count, cause.Error())
		s.publishField("connectionStatus", types.StatusError)
	}
}
