// Package transport provides byte-oriented request/response transports to
// one instrument (§4.1). Framing and timeouts live here; nothing above this
// layer guarantees single-flight access — that is DeviceSession's job (§4.3).
package transport

import (
	"context"
	"time"
)

// Transport sends one SCPI-style request and returns the instrument's
// reply, or fails with a labberr.KindTransport error (I/O failure or
// timeout).
type Transport interface {
	// Send writes request and reads back one reply, honoring ctx's
	// deadline. Implementations apply their own per-operation timeout on
	// top of ctx if ctx carries none.
	Send(ctx context.Context, request string) (reply string, err error)
	// Close releases the underlying connection. Idempotent.
	Close() error
}

// Dialer opens a Transport to an addressed instrument. Concrete dialers
// exist for the simulated backend (sim.go) and for real TCP-connected
// instruments (tcp.go).
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// Config bounds a single request/response exchange.
type Config struct {
	Timeout      time.Duration
	ScopeTimeout time.Duration
}

// DefaultConfig mirrors §5's stated typical timeouts.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second, ScopeTimeout: 10 * time.Second}
}
