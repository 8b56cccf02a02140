package driver

import (
	"context"
	"strings"
	"testing"

	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
)

type fakeTransport struct {
	reply func(req string) string
}

func (f *fakeTransport) Send(ctx context.Context, req string) (string, error) {
	return f.reply(req), nil
}
func (f *fakeTransport) Close() error { return nil }

func TestPSUSetValuePrecondition(t *testing.T) {
	ft := &fakeTransport{reply: func(req string) string { return "OK" }}
	p := NewPSU(ft, types.DeviceInfo{ID: "psu1"})
	if err := p.SetValue(context.Background(), "voltage", 1000); !labberr.IsPrecondition(err) {
		t.Fatalf("expected precondition error for out-of-range value, got %v", err)
	}
	if err := p.SetValue(context.Background(), "bogus", 1); !labberr.IsPrecondition(err) {
		t.Fatalf("expected precondition error for unknown parameter, got %v", err)
	}
}

func TestPSUSetValueOk(t *testing.T) {
	ft := &fakeTransport{reply: func(req string) string { return "OK" }}
	p := NewPSU(ft, types.DeviceInfo{ID: "psu1"})
	if err := p.SetValue(context.Background(), "voltage", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPSUProtocolErrorOnERRReply(t *testing.T) {
	ft := &fakeTransport{reply: func(req string) string { return "ERR,bad state" }}
	p := NewPSU(ft, types.DeviceInfo{ID: "psu1"})
	err := p.SetOutput(context.Background(), true)
	if !labberr.IsProtocol(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestScopeSetModeUnsupported(t *testing.T) {
	ft := &fakeTransport{reply: func(req string) string { return "OK" }}
	s := NewScope(ft, types.DeviceInfo{ID: "scope1"}, 4)
	if err := s.SetMode(context.Background(), "CV"); !labberr.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestScopeGetWaveformParsesReply(t *testing.T) {
	ft := &fakeTransport{reply: func(req string) string {
		if strings.HasPrefix(req, "WAV?") {
			return "1,2,3,4"
		}
		return "OK"
	}}
	s := NewScope(ft, types.DeviceInfo{ID: "scope1"}, 4)
	vals, err := s.GetWaveform(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vals) != 4 || vals[3] != 4 {
		t.Fatalf("unexpected waveform: %+v", vals)
	}
}

func TestLoadReadStatus(t *testing.T) {
	ft := &fakeTransport{reply: func(req string) string {
		switch {
		case req == "MODE?":
			return "CC"
		case req == "OUTP?":
			return "1"
		default:
			return "1.5"
		}
	}}
	l := NewLoad(ft, types.DeviceInfo{ID: "load1"})
	st, err := l.ReadStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Mode != "CC" || !st.OutputEnabled {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Measurements["voltage"] != 1.5 {
		t.Fatalf("expected voltage measurement 1.5, got %+v", st.Measurements)
	}
}
