package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/seqlibrary"
	"github.com/labbench/controller/internal/sequence"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/types"
)

type fakeDriver struct {
	mu           sync.Mutex
	info         types.DeviceInfo
	caps         types.Capabilities
	measurements map[string]float64
	setpoints    map[string]float64
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		info: types.DeviceInfo{ID: "dev1", Type: types.KindPowerSupply},
		caps: types.Capabilities{
			Modes:        []string{"CV"},
			Outputs:      []types.SetpointDescriptor{{Name: "voltage", Unit: "V", Min: 0, Max: 10}},
			Measurements: []types.MeasurementDescriptor{{Name: "voltage", Unit: "V"}},
		},
		measurements: map[string]float64{"voltage": 0},
		setpoints:    map[string]float64{},
	}
}

func (f *fakeDriver) setMeasurement(name string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measurements[name] = v
}

func (f *fakeDriver) Describe(ctx context.Context) (types.DeviceInfo, types.Capabilities, error) {
	return f.info, f.caps, nil
}
func (f *fakeDriver) ReadStatus(ctx context.Context) (driver.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meas := make(map[string]float64, len(f.measurements))
	for k, v := range f.measurements {
		meas[k] = v
	}
	return driver.Status{Measurements: meas, Setpoints: meas}, nil
}
func (f *fakeDriver) SetMode(ctx context.Context, name string) error    { return nil }
func (f *fakeDriver) SetOutput(ctx context.Context, enabled bool) error { return nil }
func (f *fakeDriver) SetValue(ctx context.Context, name string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setpoints[name] = value
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

type fixedEnumerator struct {
	descriptors []sessionmanager.DeviceDescriptor
}

func (e fixedEnumerator) Enumerate(ctx context.Context) ([]sessionmanager.DeviceDescriptor, error) {
	return e.descriptors, nil
}

// newTestFixture wires a session manager (with one simulated power supply),
// an empty sequence library/manager, and a shared bus — everything a
// Runtime needs to evaluate conditions and dispatch actions.
func newTestFixture(t *testing.T) (*sessionmanager.Manager, *sequence.Manager, *fakeDriver, *bus.Bus) {
	t.Helper()
	b := bus.New(64)
	drv := newFakeDriver()
	enumer := fixedEnumerator{descriptors: []sessionmanager.DeviceDescriptor{{ID: "dev1", Kind: types.KindPowerSupply}}}
	build := func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error) { return drv, nil }
	sessions := sessionmanager.New(enumer, build, b)
	if err := sessions.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	t.Cleanup(sessions.Stop)

	dir := filepath.Join(t.TempDir(), "lab-controller")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	lib, err := seqlibrary.Open(dir)
	if err != nil {
		t.Fatalf("open seqlibrary: %v", err)
	}
	seqMgr := sequence.NewManager(lib, sessions, b)

	return sessions, seqMgr, drv, b
}

func TestTimeTriggerFiresOnceAfterElapsed(t *testing.T) {
	sessions, seqMgr, _, b := newTestFixture(t)

	script := types.TriggerScript{
		ID:   "script1",
		Name: "time-once",
		Triggers: []types.Trigger{
			{
				ID:         "t1",
				Condition:  types.Condition{Kind: types.ConditionTime, Seconds: 0.2},
				Action:     types.Action{Kind: types.ActionSetValue, DeviceID: "dev1", Parameter: "voltage", Value: 5},
				RepeatMode: types.TriggerOnce,
			},
		},
	}

	rt := New(script, sessions, seqMgr, b)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if rt.State().TriggerStates[0].FiredCount >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for time trigger to fire")
		case <-time.After(20 * time.Millisecond):
		}
	}

	time.Sleep(300 * time.Millisecond)
	if got := rt.State().TriggerStates[0].FiredCount; got != 1 {
		t.Fatalf("expected exactly one fire for repeatMode=once, got %d", got)
	}
}

func TestValueTriggerRisingEdgeFiresOnce(t *testing.T) {
	sessions, seqMgr, drv, b := newTestFixture(t)

	script := types.TriggerScript{
		ID:   "script2",
		Name: "value-rising",
		Triggers: []types.Trigger{
			{
				ID:         "t1",
				Condition:  types.Condition{Kind: types.ConditionValue, DeviceID: "dev1", Parameter: "voltage", Operator: types.OpGT, Value: 3},
				Action:     types.Action{Kind: types.ActionSetOutput, DeviceID: "dev1", Enabled: false},
				RepeatMode: types.TriggerOnce,
			},
		},
	}

	rt := New(script, sessions, seqMgr, b)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop()

	drv.setMeasurement("voltage", 5)

	deadline := time.After(2 * time.Second)
	for {
		if rt.State().TriggerStates[0].FiredCount >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for value trigger to fire")
		case <-time.After(20 * time.Millisecond):
		}
	}

	time.Sleep(300 * time.Millisecond)
	if got := rt.State().TriggerStates[0].FiredCount; got != 1 {
		t.Fatalf("expected exactly one fire holding true, got %d", got)
	}
}

func TestDebounceSuppressesRepeatWithinWindow(t *testing.T) {
	sessions, seqMgr, drv, b := newTestFixture(t)

	script := types.TriggerScript{
		ID:   "script3",
		Name: "value-repeat-debounced",
		Triggers: []types.Trigger{
			{
				ID:         "t1",
				Condition:  types.Condition{Kind: types.ConditionValue, DeviceID: "dev1", Parameter: "voltage", Operator: types.OpGT, Value: 1},
				Action:     types.Action{Kind: types.ActionSetOutput, DeviceID: "dev1", Enabled: false},
				RepeatMode: types.TriggerRepeat,
				DebounceMs: 5000,
			},
		},
	}

	rt := New(script, sessions, seqMgr, b)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer rt.Stop()

	drv.setMeasurement("voltage", 5)
	time.Sleep(400 * time.Millisecond)
	drv.setMeasurement("voltage", 0)
	time.Sleep(400 * time.Millisecond)
	drv.setMeasurement("voltage", 5)
	time.Sleep(400 * time.Millisecond)

	if got := rt.State().TriggerStates[0].FiredCount; got != 1 {
		t.Fatalf("expected debounce to suppress the second re-arm, got %d fires", got)
	}
}
