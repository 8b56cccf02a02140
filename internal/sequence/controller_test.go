package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/devicesession"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/types"
)

type fakeDriver struct {
	mu   sync.Mutex
	info types.DeviceInfo
	caps types.Capabilities
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		info: types.DeviceInfo{ID: "dev1", Type: types.KindPowerSupply},
		caps: types.Capabilities{
			Modes:   []string{"CV"},
			Outputs: []types.SetpointDescriptor{{Name: "voltage", Unit: "V", Min: 0, Max: 10}},
		},
	}
}

func (f *fakeDriver) Describe(ctx context.Context) (types.DeviceInfo, types.Capabilities, error) {
	return f.info, f.caps, nil
}
func (f *fakeDriver) ReadStatus(ctx context.Context) (driver.Status, error) {
	return driver.Status{Setpoints: map[string]float64{}, Measurements: map[string]float64{}}, nil
}
func (f *fakeDriver) SetMode(ctx context.Context, name string) error   { return nil }
func (f *fakeDriver) SetOutput(ctx context.Context, enabled bool) error { return nil }
func (f *fakeDriver) SetValue(ctx context.Context, name string, value float64) error {
	return nil
}
func (f *fakeDriver) Run(ctx context.Context) error       { return nil }
func (f *fakeDriver) Stop(ctx context.Context) error      { return nil }
func (f *fakeDriver) Single(ctx context.Context) error    { return nil }
func (f *fakeDriver) AutoSetup(ctx context.Context) error { return nil }
func (f *fakeDriver) GetWaveform(ctx context.Context, channel string) ([]float64, error) {
	return nil, nil
}
func (f *fakeDriver) GetScreenshot(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeDriver) SetChannel(ctx context.Context, channel string, enabled bool) error {
	return nil
}
func (f *fakeDriver) SetTimebase(ctx context.Context, secondsPerDiv float64) error { return nil }
func (f *fakeDriver) SetTrigger(ctx context.Context, source string, level float64) error {
	return nil
}

func newTestSession(t *testing.T) (*devicesession.Session, *bus.Bus) {
	t.Helper()
	b := bus.New(64)
	drv := newFakeDriver()
	factory := func(ctx context.Context) (driver.Driver, error) { return drv, nil }
	s := devicesession.New("dev1", factory, b)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, b
}

func rampDefinition() types.SequenceDefinition {
	return types.SequenceDefinition{
		ID:   "seq1",
		Name: "ramp",
		Unit: "V",
		Waveform: types.Waveform{
			Kind: types.WaveformRamp,
			Parametric: types.ParametricParams{
				Min: 0, Max: 4, PointsPerCycle: 5, IntervalMs: 100,
			},
		},
	}
}

func TestSingleShotRampCompletes(t *testing.T) {
	session, b := newTestSession(t)
	ch := b.Connect("watcher")
	defer b.Disconnect("watcher")

	cfg := types.SequenceRunConfig{SequenceID: "seq1", DeviceID: "dev1", Parameter: "voltage", RepeatMode: types.RepeatOnce}
	c := New(rampDefinition(), cfg, session, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	var sawStarted, sawCompleted bool
	var lastCommanded float64
	for !sawCompleted {
		select {
		case env := <-ch:
			switch env.Type {
			case bus.TypeSequenceStarted:
				sawStarted = true
			case bus.TypeSequenceProgress:
				if st, ok := env.Payload.(types.SequenceState); ok {
					lastCommanded = st.CommandedValue
				}
			case bus.TypeSequenceCompleted:
				sawCompleted = true
				if st, ok := env.Payload.(types.SequenceState); ok {
					lastCommanded = st.CommandedValue
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for sequence completion")
		}
	}

	if !sawStarted {
		t.Fatal("expected sequenceStarted envelope")
	}
	if lastCommanded != 4 {
		t.Fatalf("expected final commanded value 4, got %v", lastCommanded)
	}

	final := c.State()
	if final.ExecutionState != types.SeqCompleted {
		t.Fatalf("expected completed state, got %v", final.ExecutionState)
	}
}

func TestAbortMidSequenceAppliesPostValue(t *testing.T) {
	session, b := newTestSession(t)
	ch := b.Connect("watcher")
	defer b.Disconnect("watcher")

	post := 0.0
	def := rampDefinition()
	def.Waveform.Parametric.IntervalMs = 500
	def.PostValue = &post
	cfg := types.SequenceRunConfig{SequenceID: "seq1", DeviceID: "dev1", Parameter: "voltage", RepeatMode: types.RepeatOnce}
	c := New(def, cfg, session, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := c.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	final := c.State()
	if final.ExecutionState != types.SeqIdle {
		t.Fatalf("expected idle after abort, got %v", final.ExecutionState)
	}

	drained := false
	for !drained {
		select {
		case env := <-ch:
			if env.Type == bus.TypeSequenceAborted {
				drained = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for sequenceAborted")
		}
	}
}

func TestPauseResumeShiftsSchedule(t *testing.T) {
	session, b := newTestSession(t)
	defer b.Disconnect("watcher")
	_ = b.Connect("watcher")

	def := rampDefinition()
	def.Waveform.Parametric.IntervalMs = 200
	cfg := types.SequenceRunConfig{SequenceID: "seq1", DeviceID: "dev1", Parameter: "voltage", RepeatMode: types.RepeatOnce}
	c := New(def, cfg, session, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if c.State().ExecutionState != types.SeqPaused {
		t.Fatalf("expected paused state")
	}
	c.mu.Lock()
	lastBefore := c.schedule[len(c.schedule)-1]
	c.mu.Unlock()
	time.Sleep(150 * time.Millisecond)
	if err := c.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if c.State().ExecutionState != types.SeqRunning {
		t.Fatalf("expected running state after resume")
	}
	c.mu.Lock()
	shift := c.schedule[len(c.schedule)-1].Sub(lastBefore)
	c.mu.Unlock()
	if shift < 150*time.Millisecond {
		t.Fatalf("expected remaining schedule shifted by the pause duration, got %v", shift)
	}
	if err := c.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
}
