package driver

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/transport"
	"github.com/labbench/controller/internal/types"
)

// Scope drives an oscilloscope. It has no settable power-output mode, so
// SetMode/SetOutput/SetValue are preconditioned away; the scope-only
// run/stop/single/autoSetup/waveform/screenshot/channel/timebase/trigger
// operations are implemented here instead.
type Scope struct {
	base
}

func NewScope(t transport.Transport, info types.DeviceInfo, channels int) *Scope {
	caps := types.Capabilities{
		Modes:         nil,
		ModesSettable: false,
		Features:      types.Features{ListMode: false},
		Channels:      channels,
	}
	return &Scope{base: base{t: t, info: info, caps: caps}}
}

func (s *Scope) ReadStatus(ctx context.Context) (Status, error) {
	return Status{Setpoints: map[string]float64{}, Measurements: map[string]float64{}}, nil
}

func (s *Scope) SetMode(ctx context.Context, name string) error {
	return labberr.Precondition("setMode", s.info.ID, "scope has no settable mode")
}

func (s *Scope) SetOutput(ctx context.Context, enabled bool) error {
	return labberr.Precondition("setOutput", s.info.ID, "scope has no output")
}

func (s *Scope) SetValue(ctx context.Context, name string, value float64) error {
	return labberr.Precondition("setValue", s.info.ID, "scope has no settable value")
}

func (s *Scope) Run(ctx context.Context) error {
	_, err := s.exchange(ctx, "run", "RUN")
	return err
}

func (s *Scope) Stop(ctx context.Context) error {
	_, err := s.exchange(ctx, "stop", "STOP")
	return err
}

func (s *Scope) Single(ctx context.Context) error {
	_, err := s.exchange(ctx, "single", "SINGLE")
	return err
}

func (s *Scope) AutoSetup(ctx context.Context) error {
	_, err := s.exchange(ctx, "autoSetup", "AUTOSET")
	return err
}

func (s *Scope) GetWaveform(ctx context.Context, channel string) ([]float64, error) {
	reply, err := s.exchange(ctx, "getWaveform", fmt.Sprintf("WAV? %s", channel))
	if err != nil {
		return nil, err
	}
	parts := strings.Split(reply, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, perr := strconv.ParseFloat(p, 64)
		if perr != nil {
			return nil, labberr.Protocol("getWaveform", s.info.ID, reply, perr)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Scope) GetScreenshot(ctx context.Context) ([]byte, error) {
	reply, err := s.exchange(ctx, "getScreenshot", "SCRN?")
	if err != nil {
		return nil, err
	}
	data, derr := base64.StdEncoding.DecodeString(reply)
	if derr != nil {
		return nil, labberr.Protocol("getScreenshot", s.info.ID, reply, derr)
	}
	return data, nil
}

func (s *Scope) SetChannel(ctx context.Context, channel string, enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	_, err := s.exchange(ctx, "setChannel", fmt.Sprintf("CHAN %s %s", channel, val))
	return err
}

func (s *Scope) SetTimebase(ctx context.Context, secondsPerDiv float64) error {
	_, err := s.exchange(ctx, "setTimebase", fmt.Sprintf("TIM %s", strconv.FormatFloat(secondsPerDiv, 'f', -1, 64)))
	return err
}

func (s *Scope) SetTrigger(ctx context.Context, source string, level float64) error {
	_, err := s.exchange(ctx, "setTrigger", fmt.Sprintf("TRIG %s %s", source, strconv.FormatFloat(level, 'f', -1, 64)))
	return err
}
