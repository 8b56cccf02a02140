package sessionmanager

import (
	"context"
	"testing"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
)

type fixedEnumerator struct {
	descriptors []DeviceDescriptor
}

func (f fixedEnumerator) Enumerate(ctx context.Context) ([]DeviceDescriptor, error) {
	return f.descriptors, nil
}

type stubDriver struct{}

func (stubDriver) Describe(ctx context.Context) (types.DeviceInfo, types.Capabilities, error) {
	return types.DeviceInfo{ID: "psu1", Type: types.KindPowerSupply}, types.Capabilities{}, nil
}
func (stubDriver) ReadStatus(ctx context.Context) (driver.Status, error) {
	return driver.Status{Setpoints: map[string]float64{}, Measurements: map[string]float64{}}, nil
}
func (stubDriver) SetMode(ctx context.Context, name string) error                        { return nil }
func (stubDriver) SetOutput(ctx context.Context, enabled bool) error                      { return nil }
func (stubDriver) SetValue(ctx context.Context, name string, value float64) error         { return nil }
func (stubDriver) Run(ctx context.Context) error                                         { return nil }
func (stubDriver) Stop(ctx context.Context) error                                        { return nil }
func (stubDriver) Single(ctx context.Context) error                                      { return nil }
func (stubDriver) AutoSetup(ctx context.Context) error                                   { return nil }
func (stubDriver) GetWaveform(ctx context.Context, channel string) ([]float64, error)     { return nil, nil }
func (stubDriver) GetScreenshot(ctx context.Context) ([]byte, error)                      { return nil, nil }
func (stubDriver) SetChannel(ctx context.Context, channel string, enabled bool) error      { return nil }
func (stubDriver) SetTimebase(ctx context.Context, secondsPerDiv float64) error           { return nil }
func (stubDriver) SetTrigger(ctx context.Context, source string, level float64) error     { return nil }

func TestScanRegistersNewSessions(t *testing.T) {
	enumer := fixedEnumerator{descriptors: []DeviceDescriptor{{ID: "psu1", Kind: types.KindPowerSupply, Address: "sim://psu1"}}}
	builder := func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error) {
		return stubDriver{}, nil
	}
	m := New(enumer, builder, bus.New(8))

	if err := m.Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected 1 registered device, got %d", len(m.List()))
	}

	if _, err := m.GetSession("psu1"); err != nil {
		t.Fatalf("expected session to be found: %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	m := New(fixedEnumerator{}, nil, bus.New(8))
	if _, err := m.GetSession("missing"); !labberr.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestScanIsIdempotentForExistingDevices(t *testing.T) {
	enumer := fixedEnumerator{descriptors: []DeviceDescriptor{{ID: "psu1", Kind: types.KindPowerSupply, Address: "sim://psu1"}}}
	builder := func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error) {
		return stubDriver{}, nil
	}
	m := New(enumer, builder, bus.New(8))
	if err := m.Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected session count to stay 1 across rescans, got %d", len(m.List()))
	}
}
