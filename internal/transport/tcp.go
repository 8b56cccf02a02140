package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/labbench/controller/internal/labberr"
)

// tcpTransport frames one SCPI request/reply exchange as a newline-
// terminated line over a persistent TCP connection. Every real (non-
// simulated) instrument in this controller is assumed reachable this way —
// a serial-port deployment would wrap the same net.Conn-shaped interface
// around a serial.Port instead.
type tcpTransport struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// TCPDialer dials instruments over plain TCP with a line-oriented SCPI
// framing (request + "\n", reply + "\n").
type TCPDialer struct {
	Config Config
}

func NewTCPDialer(cfg Config) *TCPDialer {
	if cfg.Timeout == 0 {
		cfg = DefaultConfig()
	}
	return &TCPDialer{Config: cfg}
}

func (d *TCPDialer) Dial(ctx context.Context, address string) (Transport, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, labberr.Transport("dial", address, err)
	}
	return &tcpTransport{conn: conn, reader: bufio.NewReader(conn), timeout: d.Config.Timeout}, nil
}

func (t *tcpTransport) Send(ctx context.Context, request string) (string, error) {
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return "", labberr.Transport("send", t.conn.RemoteAddr().String(), err)
	}

	if _, err := fmt.Fprintf(t.conn, "%s\n", strings.TrimRight(request, "\n")); err != nil {
		return "", labberr.Transport("send", t.conn.RemoteAddr().String(), err)
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", labberr.Transport("recv", t.conn.RemoteAddr().String(), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
