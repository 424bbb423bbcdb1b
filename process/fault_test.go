package process_test

import (
	"encoding/binary"
	"testing"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
)

func TestRaiseExceptionReportsUnhandledWithEmptyChain(t *testing.T) {
	ctx, engine := newTestContextWithModule(t)
	th, err := ctx.CreateThread(engine, 0x140001000, 0, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	snap := &core.Registers64{}
	handled, err := ctx.RaiseException(th, snap, process.Fault{Code: process.StatusAccessViolation, Address: 0x140001000})
	if err != nil {
		t.Fatalf("RaiseException: %v", err)
	}
	if handled {
		t.Fatalf("RaiseException reported handled with no SEH chain installed")
	}
}

func TestRaiseExceptionRedirectsToRegisteredHandler(t *testing.T) {
	ctx, engine := newTestContextWithModule(t)
	th, err := ctx.CreateThread(engine, 0x140001000, 0, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	frameAddr, err := ctx.Mem.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagStack)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := ctx.Mem.Commit(frameAddr, 0x1000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	const handlerAddr = 0x140002000
	frame := make([]byte, 16)
	binary.LittleEndian.PutUint64(frame[0:8], 0xffffffffffffffff)
	binary.LittleEndian.PutUint64(frame[8:16], handlerAddr)
	if err := ctx.Mem.Write(frameAddr, frame, memory.Privileged); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, frameAddr)
	if err := ctx.Mem.Write(th.TEBAddress, buf, memory.Privileged); err != nil {
		t.Fatalf("Write TEB chain: %v", err)
	}

	snap := &core.Registers64{Rip: 0x140001010}
	handled, err := ctx.RaiseException(th, snap, process.Fault{Code: process.StatusAccessViolation, Address: 0x140001010, Info: []uint64{0, 0xdead0000}})
	if err != nil {
		t.Fatalf("RaiseException: %v", err)
	}
	if !handled {
		t.Fatalf("RaiseException reported unhandled with a registered SEH frame")
	}
	if snap.Rip != handlerAddr {
		t.Errorf("Rip = 0x%x, want redirected to handler 0x%x", snap.Rip, handlerAddr)
	}
	if snap.Rcx == 0 {
		t.Errorf("Rcx (exception record pointer) was not set")
	}
	if snap.Rdx != frameAddr {
		t.Errorf("Rdx (establisher frame) = 0x%x, want 0x%x", snap.Rdx, frameAddr)
	}

	chain, err := ctx.Mem.Read(th.TEBAddress, 8, memory.Privileged)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := binary.LittleEndian.Uint64(chain); got != 0xffffffffffffffff {
		t.Errorf("TEB chain after dispatch = 0x%x, want popped to sentinel", got)
	}
}
