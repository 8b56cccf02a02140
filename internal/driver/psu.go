package driver

import (
	"context"

	"github.com/labbench/controller/internal/transport"
	"github.com/labbench/controller/internal/types"
)

// PSU drives a power supply: modes CC/CV, voltage/current outputs.
type PSU struct {
	base
}

func NewPSU(t transport.Transport, info types.DeviceInfo) *PSU {
	caps := types.Capabilities{
		Modes:         []string{"CC", "CV"},
		ModesSettable: true,
		Outputs: []types.SetpointDescriptor{
			{Name: "voltage", Unit: "V", Min: 0, Max: 60, Decimals: 3, Modes: []string{"CV"}},
			{Name: "current", Unit: "A", Min: 0, Max: 10, Decimals: 3, Modes: []string{"CC"}},
		},
		Measurements: []types.MeasurementDescriptor{
			{Name: "voltage", Unit: "V", Decimals: 3},
			{Name: "current", Unit: "A", Decimals: 3},
		},
		SupportedMeasurements: []string{"voltage", "current"},
	}
	return &PSU{base: base{t: t, info: info, caps: caps}}
}

func (p *PSU) ReadStatus(ctx context.Context) (Status, error) {
	return p.readStatusCommon(ctx, p.caps.Outputs, nil)
}

func (p *PSU) SetMode(ctx context.Context, name string) error { return p.setModeCommon(ctx, name) }
func (p *PSU) SetOutput(ctx context.Context, enabled bool) error {
	return p.setOutputCommon(ctx, enabled)
}
func (p *PSU) SetValue(ctx context.Context, name string, value float64) error {
	return p.setValueCommon(ctx, name, value)
}
