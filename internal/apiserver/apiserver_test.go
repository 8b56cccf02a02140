package apiserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/seqlibrary"
	"github.com/labbench/controller/internal/sequence"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/triggerlibrary"
	"github.com/labbench/controller/internal/trigger"
	"github.com/labbench/controller/internal/types"
)

type fakeDriver struct {
	info types.DeviceInfo
	caps types.Capabilities
}

func (f *fakeDriver) Describe(ctx context.Context) (types.DeviceInfo, types.Capabilities, error) {
	return f.info, f.caps, nil
}
func (f *fakeDriver) ReadStatus(ctx context.Context) (driver.Status, error) {
	return driver.Status{Measurements: map[string]float64{"voltage": 0}, Setpoints: map[string]float64{}}, nil
}
func (f *fakeDriver) SetMode(ctx context.Context, name string) error                  { return nil }
func (f *fakeDriver) SetOutput(ctx context.Context, enabled bool) error               { return nil }
func (f *fakeDriver) SetValue(ctx context.Context, name string, value float64) error  { return nil }
func (f *fakeDriver) Run(ctx context.Context) error                                   { return nil }
func (f *fakeDriver) Stop(ctx context.Context) error                                  { return nil }
func (f *fakeDriver) Single(ctx context.Context) error                                { return nil }
func (f *fakeDriver) AutoSetup(ctx context.Context) error                             { return nil }
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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := bus.New(64)
	drv := &fakeDriver{
		info: types.DeviceInfo{ID: "dev1", Type: types.KindPowerSupply},
		caps: types.Capabilities{
			Outputs:      []types.SetpointDescriptor{{Name: "voltage", Unit: "V", Min: 0, Max: 10}},
			Measurements: []types.MeasurementDescriptor{{Name: "voltage", Unit: "V"}},
		},
	}
	enumer := fixedEnumerator{descriptors: []sessionmanager.DeviceDescriptor{{ID: "dev1", Kind: types.KindPowerSupply}}}
	build := func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error) { return drv, nil }
	sessions := sessionmanager.New(enumer, build, b)
	if err := sessions.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	t.Cleanup(sessions.Stop)

	seqDir := t.TempDir()
	seqLib, err := seqlibrary.Open(seqDir)
	if err != nil {
		t.Fatalf("open seqlibrary: %v", err)
	}
	seqMgr := sequence.NewManager(seqLib, sessions, b)

	trigDir := t.TempDir()
	trigLib, err := triggerlibrary.Open(trigDir)
	if err != nil {
		t.Fatalf("open triggerlibrary: %v", err)
	}
	trigMgr := trigger.NewManager(trigLib, sessions, seqMgr, b)

	s := New(":0", sessions, seqMgr, trigMgr, b, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func postCommand(t *testing.T, s *Server, body map[string]interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	resp, err := http.Post(s.URL()+"/commands", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	return resp
}

func TestHealthzReportsOK(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSetValueRejectsOutOfRange(t *testing.T) {
	s := newTestServer(t)
	resp := postCommand(t, s, map[string]interface{}{
		"type": "setValue", "deviceId": "dev1", "name": "voltage", "value": 999,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range value, got %d", resp.StatusCode)
	}
}

func TestSetValueUnknownDeviceReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := postCommand(t, s, map[string]interface{}{
		"type": "setValue", "deviceId": "missing", "name": "voltage", "value": 1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", resp.StatusCode)
	}
}

func TestEventsStreamReceivesDeviceList(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, s.URL()+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Client-Id", "test-client")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	// Trigger a deviceList push via /commands from a second connection.
	go func() {
		time.Sleep(50 * time.Millisecond)
		payload, _ := json.Marshal(map[string]interface{}{"type": "getDevices"})
		if resp, err := http.Post(s.URL()+"/commands", "application/json", bytes.NewReader(payload)); err == nil {
			resp.Body.Close()
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse stream: %v", err)
		}
		if strings.HasPrefix(line, "event: "+string(bus.TypeDeviceList)) {
			return
		}
	}
	t.Fatal("timed out waiting for deviceList event")
}
