// Package main provides the labbenchd-simhost CLI binary: a standalone
// simulated-instrument host for development and integration testing,
// serving one line-framed SCPI endpoint per requested instrument kind.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/labbench/controller/internal/transport"
	"github.com/labbench/controller/internal/types"
)

func main() {
	kindsFlag := flag.String("kinds", "power-supply,electronic-load,oscilloscope", "Comma-separated instrument kinds to simulate")
	addr := flag.String("addr", "127.0.0.1:0", "Base listen address; each instrument gets its own ephemeral port on this host")
	noise := flag.Float64("noise", 0.01, "Measurement noise amplitude")
	flag.Parse()

	var kinds []types.DeviceKind
	for _, raw := range strings.Split(*kindsFlag, ",") {
		k := types.DeviceKind(strings.TrimSpace(raw))
		if k == "" {
			continue
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -kinds must name at least one instrument kind")
		os.Exit(1)
	}

	host, _, _ := strings.Cut(*addr, ":")
	if host == "" {
		host = "127.0.0.1"
	}

	var servers []*transport.SimServer
	for _, kind := range kinds {
		cfg := transport.DefaultSimConfig(kind)
		cfg.Addr = fmt.Sprintf("%s:0", host)
		cfg.NoiseAmplitude = *noise
		sim := transport.NewSimServer(cfg)
		if err := sim.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting simulated %s: %v\n", kind, err)
			os.Exit(1)
		}
		servers = append(servers, sim)
		fmt.Printf("%-18s %s\n", kind, sim.Addr())
	}

	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	for _, sim := range servers {
		sim.Stop()
	}
	fmt.Println("simhost stopped")
}
