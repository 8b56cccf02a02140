package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labbench/controller/internal/apiserver"
	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/driver"
	"github.com/labbench/controller/internal/inventory"
	"github.com/labbench/controller/internal/otelobs"
	"github.com/labbench/controller/internal/seqlibrary"
	"github.com/labbench/controller/internal/sequence"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/transport"
	"github.com/labbench/controller/internal/trigger"
	"github.com/labbench/controller/internal/triggerlibrary"
	"github.com/labbench/controller/internal/types"
)

func main() {
	addr := flag.String("addr", ":8090", "HTTP server address")
	inventoryPath := flag.String("inventory", "", "Path to the device fleet YAML file (required unless -dev)")
	dataDir := flag.String("data-dir", "", "Directory for persisted libraries (default: XDG data home)")
	watchInventory := flag.Bool("watch-inventory", true, "Re-scan the fleet when the inventory file changes")
	otelExporter := flag.String("otel-exporter", "none", "Telemetry exporter: none, stdout, otlp-grpc, otlp-http")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP collector endpoint (for otlp-grpc/otlp-http)")
	otlpInsecure := flag.Bool("otlp-insecure", false, "Disable TLS when talking to the OTLP collector")
	devMode := flag.Bool("dev", false, "Development mode: binds to loopback and runs three simulated instruments")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *devMode {
		*addr = "127.0.0.1:8090"
		fmt.Println("")
		fmt.Println("╔════════════════════════════════════════════════════════════╗")
		fmt.Println("║  DEVELOPMENT MODE                                           ║")
		fmt.Println("║  Bound to loopback only, serving simulated instruments      ║")
		fmt.Println("╚════════════════════════════════════════════════════════════╝")
		fmt.Println("")
	}

	if *inventoryPath == "" && !*devMode {
		fmt.Fprintln(os.Stderr, "Error: -inventory is required outside of -dev mode")
		os.Exit(1)
	}

	ctx := context.Background()

	metricsCfg := otelobs.DefaultMetricsConfig()
	metricsCfg.Enabled = *otelExporter != "none"
	metricsCfg.ExporterType = otelobs.ExporterType(*otelExporter)
	metricsCfg.OTLPEndpoint = *otlpEndpoint
	metricsCfg.OTLPInsecure = *otlpInsecure
	metrics, err := otelobs.NewMetrics(ctx, metricsCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting metrics: %v\n", err)
		os.Exit(1)
	}
	otelobs.SetGlobalMetrics(metrics)

	tracerCfg := otelobs.DefaultTracerConfig()
	tracerCfg.Enabled = *otelExporter != "none"
	tracerCfg.ExporterType = otelobs.ExporterType(*otelExporter)
	tracerCfg.OTLPEndpoint = *otlpEndpoint
	tracerCfg.OTLPInsecure = *otlpInsecure
	tracer, err := otelobs.NewTracer(ctx, tracerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting tracer: %v\n", err)
		os.Exit(1)
	}
	otelobs.SetGlobalTracer(tracer)

	b := bus.New(256)

	var sessions *sessionmanager.Manager
	var devStop func()

	if *devMode {
		enumer, buildDrv, sims := newDevFleet()
		sessions = sessionmanager.New(enumer, buildDrv, b)
		devStop = func() {
			for _, s := range sims {
				s.Stop()
			}
		}
	} else {
		enumer, err := inventory.Open(*inventoryPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading inventory: %v\n", err)
			os.Exit(1)
		}
		sessions = sessionmanager.New(enumer, realDriverBuilder(enumer), b)

		if *watchInventory {
			if err := enumer.Watch(func() {
				rescanCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := sessions.Scan(rescanCtx); err != nil {
					logger.Error("inventory rescan failed", "error", err)
				}
			}); err != nil {
				logger.Warn("inventory watch disabled", "error", err)
			}
		}
		devStop = func() { enumer.Close() }
	}
	defer devStop()

	runServer(ctx, *addr, sessions, b, *dataDir, logger)
}

func runServer(ctx context.Context, addr string, sessions *sessionmanager.Manager, b *bus.Bus, dataDir string, logger *slog.Logger) {
	if err := sessions.Scan(ctx); err != nil {
		logger.Error("initial scan failed", "error", err)
	}

	seqLib, err := seqlibrary.Open(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening sequence library: %v\n", err)
		os.Exit(1)
	}
	seqMgr := sequence.NewManager(seqLib, sessions, b)

	trigLib, err := triggerlibrary.Open(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening trigger library: %v\n", err)
		os.Exit(1)
	}
	trigMgr := trigger.NewManager(trigLib, sessions, seqMgr, b)

	server := apiserver.New(addr, sessions, seqMgr, trigMgr, b, logger)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("labbenchd listening on %s\n", server.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
	}
	sessions.Stop()
	fmt.Println("labbenchd stopped")
}

// realDriverBuilder dials instruments over TCP using each entry's
// configured address, building the Driver family its kind names. enumer
// may be nil, in which case the device id falls back to its
// dial address and scopes default to 4 channels.
func realDriverBuilder(enumer *inventory.Enumerator) sessionmanager.DriverBuilder {
	dialer := transport.NewTCPDialer(transport.DefaultConfig())
	return func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error) {
		t, err := dialer.Dial(ctx, address)
		if err != nil {
			return nil, err
		}
		return driverFor(kind, t, address, enumer), nil
	}
}

func driverFor(kind types.DeviceKind, t transport.Transport, address string, enumer *inventory.Enumerator) driver.Driver {
	id := address
	channels := 4
	if enumer != nil {
		if entry, ok := enumer.ByAddress(address); ok {
			id = entry.ID
			if entry.Channels > 0 {
				channels = entry.Channels
			}
		}
	}
	info := types.DeviceInfo{ID: id, Type: kind}
	switch kind {
	case types.KindOscilloscope:
		return driver.NewScope(t, info, channels)
	case types.KindElectronicLoad:
		return driver.NewLoad(t, info)
	default:
		return driver.NewPSU(t, info)
	}
}

// devFleetEnumerator is the fixed, in-memory DeviceEnumerator used by -dev:
// one power supply, one electronic load, one oscilloscope, each backed by
// a transport.SimServer listening on loopback.
type devFleetEnumerator struct {
	descriptors []sessionmanager.DeviceDescriptor
}

func (e devFleetEnumerator) Enumerate(ctx context.Context) ([]sessionmanager.DeviceDescriptor, error) {
	return e.descriptors, nil
}

// newDevFleet starts the three simulated instruments -dev mode serves and
// returns an enumerator, a DriverBuilder that dials them by address while
// preserving their fixed ids, and the running servers for later shutdown.
func newDevFleet() (devFleetEnumerator, sessionmanager.DriverBuilder, []*transport.SimServer) {
	kinds := []struct {
		id   string
		kind types.DeviceKind
	}{
		{"psu1", types.KindPowerSupply},
		{"load1", types.KindElectronicLoad},
		{"scope1", types.KindOscilloscope},
	}

	descriptors := make([]sessionmanager.DeviceDescriptor, 0, len(kinds))
	sims := make([]*transport.SimServer, 0, len(kinds))
	idByAddr := make(map[string]string, len(kinds))
	for _, k := range kinds {
		sim := transport.NewSimServer(transport.DefaultSimConfig(k.kind))
		if err := sim.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting simulated %s: %v\n", k.kind, err)
			os.Exit(1)
		}
		sims = append(sims, sim)
		descriptors = append(descriptors, sessionmanager.DeviceDescriptor{ID: k.id, Kind: k.kind, Address: sim.Addr()})
		idByAddr[sim.Addr()] = k.id
	}

	dialer := transport.NewTCPDialer(transport.DefaultConfig())
	buildDrv := sessionmanager.DriverBuilder(func(ctx context.Context, kind types.DeviceKind, address string) (driver.Driver, error) {
		t, err := dialer.Dial(ctx, address)
		if err != nil {
			return nil, err
		}
		id := idByAddr[address]
		info := types.DeviceInfo{ID: id, Type: kind}
		switch kind {
		case types.KindOscilloscope:
			return driver.NewScope(t, info, 4), nil
		case types.KindElectronicLoad:
			return driver.NewLoad(t, info), nil
		default:
			return driver.NewPSU(t, info), nil
		}
	})

	return devFleetEnumerator{descriptors: descriptors}, buildDrv, sims
}
