package transport

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labbench/controller/internal/labberr"
	"github.com/labbench/controller/internal/types"
)

// SimConfig configures one simulated instrument backend.
type SimConfig struct {
	Addr string
	Kind types.DeviceKind
	// NoiseAmplitude is added to simulated measurements to mimic real
	// instrument jitter.
	NoiseAmplitude float64
}

func DefaultSimConfig(kind types.DeviceKind) SimConfig {
	return SimConfig{Addr: "127.0.0.1:0", Kind: kind, NoiseAmplitude: 0.01}
}

// SimServer is a standalone simulated instrument listening for line-framed
// SCPI requests over TCP, used by cmd/simhost and by tests that want a real
// Dialer/Transport round trip instead of an in-process fake.
type SimServer struct {
	cfg      SimConfig
	listener net.Listener
	addr     string

	mu     sync.Mutex
	rng    *rand.Rand
	output bool
	mode   string
	setp   map[string]float64
}

func NewSimServer(cfg SimConfig) *SimServer {
	return &SimServer{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		setp: defaultSetpoints(cfg.Kind),
	}
}

func defaultSetpoints(kind types.DeviceKind) map[string]float64 {
	switch kind {
	case types.KindPowerSupply:
		return map[string]float64{"voltage": 0, "current": 1}
	case types.KindElectronicLoad:
		return map[string]float64{"current": 0, "resistance": 10}
	default:
		return map[string]float64{}
	}
}

func (s *SimServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = ln.Addr().String()
	go s.acceptLoop()
	return nil
}

func (s *SimServer) Addr() string {
	return s.addr
}

func (s *SimServer) Stop() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *SimServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *SimServer) serve(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		reply := s.handle(strings.TrimRight(line, "\r\n"))
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			return
		}
	}
}

// handle evaluates one SCPI-style request against simulated instrument
// state and returns the reply line. Grounded on the same request/response
// shape the real drivers expect (see internal/driver).
func (s *SimServer) handle(req string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := strings.Fields(req)
	if len(fields) == 0 {
		return "ERR,empty request"
	}
	cmd := strings.ToUpper(fields[0])

	switch cmd {
	case "*IDN?":
		return fmt.Sprintf("LABBENCH,SIM-%s,SN0001,1.0", s.cfg.Kind)
	case "OUTP":
		if len(fields) < 2 {
			return "ERR,missing argument"
		}
		s.output = fields[1] == "1" || strings.EqualFold(fields[1], "ON")
		return "OK"
	case "OUTP?":
		if s.output {
			return "1"
		}
		return "0"
	case "MODE":
		if len(fields) < 2 {
			return "ERR,missing argument"
		}
		s.mode = fields[1]
		return "OK"
	case "MODE?":
		return s.mode
	case "SETV":
		return s.setValue(fields)
	case "MEAS?":
		return s.measure(fields)
	case "RUN", "STOP", "SINGLE", "AUTOSET":
		return "OK"
	case "CHAN", "TIM", "TRIG":
		return "OK"
	case "WAV?":
		return s.waveform()
	case "SCRN?":
		return "AA==" // one zero byte, base64-encoded
	default:
		return "ERR,unsupported command"
	}
}

// waveform synthesizes a short sample trace for GetWaveform, since the
// simulated backend has no real acquisition hardware to read from.
func (s *SimServer) waveform() string {
	const n = 16
	samples := make([]string, n)
	for i := 0; i < n; i++ {
		v := math.Sin(float64(i)/float64(n)*2*math.Pi) + (s.rng.Float64()*2-1)*s.cfg.NoiseAmplitude
		samples[i] = strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
	}
	return strings.Join(samples, ",")
}

func (s *SimServer) setValue(fields []string) string {
	if len(fields) < 3 {
		return "ERR,missing argument"
	}
	v, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return "ERR,bad value"
	}
	s.setp[fields[1]] = v
	return "OK"
}

func (s *SimServer) measure(fields []string) string {
	if len(fields) < 2 {
		return "ERR,missing argument"
	}
	base, ok := s.setp[fields[1]]
	if !ok {
		return "ERR,unknown parameter"
	}
	noise := (s.rng.Float64()*2 - 1) * s.cfg.NoiseAmplitude
	v := base + noise
	if !s.output {
		v = 0
	}
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

// SimDialer dials a SimServer (or any other line-framed TCP endpoint) using
// the same wire framing as TCPDialer. It exists as a distinct type so
// callers can express "this session talks to a simulated backend" in
// configuration without depending on net-level detail.
type SimDialer struct {
	inner *TCPDialer
}

func NewSimDialer(cfg Config) *SimDialer {
	return &SimDialer{inner: NewTCPDialer(cfg)}
}

func (d *SimDialer) Dial(ctx context.Context, address string) (Transport, error) {
	t, err := d.inner.Dial(ctx, address)
	if err != nil {
		return nil, labberr.Transport("dial", address, err)
	}
	return t, nil
}
