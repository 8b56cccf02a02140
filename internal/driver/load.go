package driver

import (
	"context"

	"github.com/labbench/controller/internal/transport"
	"github.com/labbench/controller/internal/types"
)

// Load drives an electronic load: modes CC/CV/CR/CP.
type Load struct {
	base
}

func NewLoad(t transport.Transport, info types.DeviceInfo) *Load {
	caps := types.Capabilities{
		Modes:         []string{"CC", "CV", "CR", "CP"},
		ModesSettable: true,
		Outputs: []types.SetpointDescriptor{
			{Name: "current", Unit: "A", Min: 0, Max: 30, Decimals: 3, Modes: []string{"CC"}},
			{Name: "resistance", Unit: "Ohm", Min: 0.01, Max: 10000, Decimals: 2, Modes: []string{"CR"}},
			{Name: "voltage", Unit: "V", Min: 0, Max: 150, Decimals: 3, Modes: []string{"CV"}},
			{Name: "power", Unit: "W", Min: 0, Max: 300, Decimals: 2, Modes: []string{"CP"}},
		},
		Measurements: []types.MeasurementDescriptor{
			{Name: "voltage", Unit: "V", Decimals: 3},
			{Name: "current", Unit: "A", Decimals: 3},
			{Name: "power", Unit: "W", Decimals: 2},
		},
		SupportedMeasurements: []string{"voltage", "current", "power"},
	}
	return &Load{base: base{t: t, info: info, caps: caps}}
}

func (l *Load) ReadStatus(ctx context.Context) (Status, error) {
	return l.readStatusCommon(ctx, nil, l.caps.Measurements)
}

func (l *Load) SetMode(ctx context.Context, name string) error { return l.setModeCommon(ctx, name) }
func (l *Load) SetOutput(ctx context.Context, enabled bool) error {
	return l.setOutputCommon(ctx, enabled)
}
func (l *Load) SetValue(ctx context.Context, name string, value float64) error {
	return l.setValueCommon(ctx, name, value)
}
