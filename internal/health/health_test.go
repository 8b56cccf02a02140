package health

import "testing"

func TestCollectReportsUptimeAndGoroutines(t *testing.T) {
	r := New()
	rep := r.Collect()
	if rep.Status != "ok" {
		t.Fatalf("expected status ok, got %q", rep.Status)
	}
	if rep.Goroutines <= 0 {
		t.Fatalf("expected a positive goroutine count, got %d", rep.Goroutines)
	}
	if rep.UptimeSeconds < 0 {
		t.Fatalf("expected non-negative uptime, got %f", rep.UptimeSeconds)
	}
}
