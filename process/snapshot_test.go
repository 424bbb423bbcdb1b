package process_test

import (
	"testing"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
)

func TestSnapshotCapturesModulesRegionsAndThreads(t *testing.T) {
	ctx, engine := newTestContextWithModule(t)

	if _, err := ctx.CreateThread(engine, 0x140001000, 0, 0); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	base, err := ctx.Mem.Reserve(0x900000, 0x1000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := ctx.Mem.Commit(base, 0x1000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	payload := []byte("checkpoint-me")
	if err := ctx.Mem.Write(base, payload, memory.Privileged); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap, err := ctx.Snapshot(engine)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Modules) != 1 || snap.Modules[0].Name != "main.exe" {
		t.Fatalf("modules = %+v", snap.Modules)
	}
	if len(snap.Threads) != 1 {
		t.Fatalf("threads = %+v, want exactly 1", snap.Threads)
	}

	var found bool
	for _, r := range snap.Regions {
		if r.Base != base {
			continue
		}
		found = true
		if string(r.Data[:len(payload)]) != string(payload) {
			t.Fatalf("region data = %q, want %q", r.Data[:len(payload)], payload)
		}
	}
	if !found {
		t.Fatalf("captured regions missing the freshly committed one")
	}
}

func TestRestoreSnapshotAppliesThreadState(t *testing.T) {
	ctx, engine := newTestContextWithModule(t)
	th, err := ctx.CreateThread(engine, 0x140001000, 0, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	snap, err := ctx.Snapshot(engine)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	th.LastStatus = 0xdeadbeef
	th.SuspendCount = 9
	th.State = process.StateSuspended

	if err := ctx.RestoreSnapshot(snap); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}

	if th.LastStatus != 0 {
		t.Errorf("LastStatus = 0x%x, want restored to 0 (captured before mutation)", th.LastStatus)
	}
	if th.SuspendCount != 0 {
		t.Errorf("SuspendCount = %d, want restored to 0", th.SuspendCount)
	}
	if th.State != process.StateReady {
		t.Errorf("State = %v, want restored to ready", th.State)
	}
}
