package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labbench/controller/internal/triggerlibrary"
	"github.com/labbench/controller/internal/types"
)

func newTestTriggerLibrary(t *testing.T) *triggerlibrary.Library {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "lab-controller")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	lib, err := triggerlibrary.Open(dir)
	if err != nil {
		t.Fatalf("open trigger library: %v", err)
	}
	return lib
}

func TestManagerStartStopsPreviousRuntime(t *testing.T) {
	sessions, seqMgr, _, b := newTestFixture(t)
	lib := newTestTriggerLibrary(t)
	mgr := NewManager(lib, sessions, seqMgr, b)

	script := types.TriggerScript{
		ID:   "s1",
		Name: "first",
		Triggers: []types.Trigger{
			{ID: "t1", Condition: types.Condition{Kind: types.ConditionTime, Seconds: 60}, Action: types.Action{Kind: types.ActionSetOutput, DeviceID: "dev1", Enabled: true}, RepeatMode: types.TriggerOnce},
		},
	}
	if _, err := mgr.Save(script); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := mgr.Start(ctx, "s1"); err != nil {
		t.Fatalf("start first: %v", err)
	}
	first, ok := mgr.GetActiveState()
	if !ok || first.ExecutionState != types.ScriptRunning {
		t.Fatalf("expected first runtime running")
	}

	script2 := script
	script2.ID = "s2"
	script2.Name = "second"
	if _, err := mgr.Save(script2); err != nil {
		t.Fatalf("save second: %v", err)
	}
	if _, err := mgr.Start(ctx, "s2"); err != nil {
		t.Fatalf("start second: %v", err)
	}

	second, ok := mgr.GetActiveState()
	if !ok || second.ScriptID != "s2" {
		t.Fatalf("expected second runtime active, got %+v ok=%v", second, ok)
	}

	if err := mgr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDeleteRejectsActiveScript(t *testing.T) {
	sessions, seqMgr, _, b := newTestFixture(t)
	lib := newTestTriggerLibrary(t)
	mgr := NewManager(lib, sessions, seqMgr, b)

	script := types.TriggerScript{
		ID:   "s1",
		Name: "first",
		Triggers: []types.Trigger{
			{ID: "t1", Condition: types.Condition{Kind: types.ConditionTime, Seconds: 60}, Action: types.Action{Kind: types.ActionSetOutput, DeviceID: "dev1", Enabled: true}, RepeatMode: types.TriggerOnce},
		},
	}
	if _, err := mgr.Save(script); err != nil {
		t.Fatalf("save: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := mgr.Start(ctx, "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Stop()

	if err := mgr.Delete("s1"); err == nil {
		t.Fatal("expected delete to be rejected while script is running")
	}
}
