// Package driver implements the instrument-family adapters of §4.2: each
// Driver maps high-level operations onto SCPI-style exchanges over a
// transport.Transport and translates malformed or unsupported replies into
// the labberr taxonomy, the way the teacher's transport layer maps
// lower-level failures at its own adapter boundary.
package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/transport"
	"github.com/labbench/controller/internal/types"
)

// Status is the live readback of readStatus().
type Status struct {
	Mode          string
	OutputEnabled bool
	Setpoints     map[string]float64
	Measurements  map[string]float64
}

// Driver maps §4.2's high-level operations onto one instrument over one
// Transport. Scope-only operations are declared on the same interface and
// return labberr.KindPrecondition (classified Unsupported by callers via
// capabilities.Features) when invoked against a non-scope driver.
type Driver interface {
	Describe(ctx context.Context) (types.DeviceInfo, types.Capabilities, error)
	ReadStatus(ctx context.Context) (Status, error)
	SetMode(ctx context.Context, name string) error
	SetOutput(ctx context.Context, enabled bool) error
	SetValue(ctx context.Context, name string, value float64) error

	Run(ctx context.Context) error
	Stop(ctx context.Context) error
	Single(ctx context.Context) error
	AutoSetup(ctx context.Context) error
	GetWaveform(ctx context.Context, channel string) ([]float64, error)
	GetScreenshot(ctx context.Context) ([]byte, error)
	SetChannel(ctx context.Context, channel string, enabled bool) error
	SetTimebase(ctx context.Context, secondsPerDiv float64) error
	SetTrigger(ctx context.Context, source string, level float64) error
}

// base centralizes the shared request/reply exchange and error translation
// for every concrete driver.
type base struct {
	t    transport.Transport
	info types.DeviceInfo
	caps types.Capabilities
}

func (b *base) exchange(ctx context.Context, op string, req string) (string, error) {
	reply, err := b.t.Send(ctx, req)
	if err != nil {
		return "", labberr.Transport(op, b.info.ID, err)
	}
	if strings.HasPrefix(reply, "ERR") {
		return "", labberr.Protocol(op, b.info.ID, reply, nil)
	}
	return reply, nil
}

func (b *base) Describe(ctx context.Context) (types.DeviceInfo, types.Capabilities, error) {
	return b.info, b.caps, nil
}

func (b *base) unsupported(op string) error {
	return labberr.Precondition(op, b.info.ID, "operation not supported by this driver")
}

func (b *base) Run(ctx context.Context) error                                     { return b.unsupported("run") }
func (b *base) Stop(ctx context.Context) error                                    { return b.unsupported("stop") }
func (b *base) Single(ctx context.Context) error                                  { return b.unsupported("single") }
func (b *base) AutoSetup(ctx context.Context) error                               { return b.unsupported("autoSetup") }
func (b *base) GetWaveform(ctx context.Context, channel string) ([]float64, error) { return nil, b.unsupported("getWaveform") }
func (b *base) GetScreenshot(ctx context.Context) ([]byte, error)                 { return nil, b.unsupported("getScreenshot") }
func (b *base) SetChannel(ctx context.Context, channel string, enabled bool) error { return b.unsupported("setChannel") }
func (b *base) SetTimebase(ctx context.Context, secondsPerDiv float64) error      { return b.unsupported("setTimebase") }
func (b *base) SetTrigger(ctx context.Context, source string, level float64) error { return b.unsupported("setTrigger") }

func (b *base) readStatusCommon(ctx context.Context, outputs []types.SetpointDescriptor, measurements []types.MeasurementDescriptor) (Status, error) {
	mode, err := b.exchange(ctx, "readStatus.mode", "MODE?")
	if err != nil {
		return Status{}, err
	}
	outp, err := b.exchange(ctx, "readStatus.output", "OUTP?")
	if err != nil {
		return Status{}, err
	}
	st := Status{Mode: mode, OutputEnabled: outp == "1", Setpoints: map[string]float64{}, Measurements: map[string]float64{}}
	for _, o := range outputs {
		reply, err := b.exchange(ctx, "readStatus.measure", fmt.Sprintf("MEAS? %s", o.Name))
		if err != nil {
			return Status{}, err
		}
		v, perr := strconv.ParseFloat(reply, 64)
		if perr != nil {
			return Status{}, labberr.Protocol("readStatus.measure", b.info.ID, reply, perr)
		}
		st.Measurements[o.Name] = v
	}
	for _, m := range measurements {
		reply, err := b.exchange(ctx, "readStatus.measure", fmt.Sprintf("MEAS? %s", m.Name))
		if err != nil {
			return Status{}, err
		}
		v, perr := strconv.ParseFloat(reply, 64)
		if perr != nil {
			return Status{}, labberr.Protocol("readStatus.measure", b.info.ID, reply, perr)
		}
		st.Measurements[m.Name] = v
	}
	return st, nil
}

func (b *base) setModeCommon(ctx context.Context, name string) error {
	if !b.caps.ModesSettable || !b.caps.HasMode(name) {
		return labberr.Precondition("setMode", b.info.ID, "mode not settable or not in capabilities.modes")
	}
	_, err := b.exchange(ctx, "setMode", fmt.Sprintf("MODE %s", name))
	return err
}

func (b *base) setOutputCommon(ctx context.Context, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	_, err := b.exchange(ctx, "setOutput", fmt.Sprintf("OUTP %s", val))
	return err
}

func (b *base) setValueCommon(ctx context.Context, name string, value float64) error {
	desc, ok := b.caps.Output(name)
	if !ok {
		return labberr.Precondition("setValue", b.info.ID, "parameter not in capabilities.outputs")
	}
	if value < desc.Min || value > desc.Max {
		return labberr.Precondition("setValue", b.info.ID, "value out of [min,max]")
	}
	_, err := b.exchange(ctx, "setValue", fmt.Sprintf("SETV %s %s", name, strconv.FormatFloat(value, 'f', -1, 64)))
	return err
}
