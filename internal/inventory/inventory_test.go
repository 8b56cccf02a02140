package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/labbench/controller/internal/types"
)

func writeFleet(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fleet: %v", err)
	}
	return path
}

func TestOpenEnumeratesDevices(t *testing.T) {
	path := writeFleet(t, `
devices:
  - id: psu1
    kind: power-supply
    address: 127.0.0.1:5025
  - id: scope1
    kind: oscilloscope
    address: 127.0.0.1:5026
    channels: 2
`)
	enumer, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	descriptors, err := enumer.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(descriptors))
	}
	if descriptors[1].Kind != types.KindOscilloscope {
		t.Fatalf("expected oscilloscope, got %s", descriptors[1].Kind)
	}

	entry, ok := enumer.ByAddress("127.0.0.1:5026")
	if !ok {
		t.Fatal("expected to find scope1 by address")
	}
	if entry.Channels != 2 {
		t.Fatalf("expected 2 channels, got %d", entry.Channels)
	}
}

func TestOpenRejectsMissingID(t *testing.T) {
	path := writeFleet(t, `
devices:
  - kind: power-supply
    address: 127.0.0.1:5025
`)
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for device missing id")
	}
}

func TestOpenRejectsMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
