package syscallapi_test

import (
	"testing"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/module"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/syscallapi"
)

// fakeEngine is a stateful core.Engine double: unlike a fresh-snapshot
// stub, ReadRegisters/WriteRegisters share one persistent register block,
// since the dispatcher mutates the snapshot it reads and writes it back.
type fakeEngine struct {
	mem  map[uint64]byte
	regs core.Registers64
}

func newFakeEngine() *fakeEngine { return &fakeEngine{mem: make(map[uint64]byte)} }

func (f *fakeEngine) Run(uint64, uint64, uint64) error { return nil }
func (f *fakeEngine) Stop() error                      { return nil }
func (f *fakeEngine) ReadReg(int) (uint64, error)      { return 0, nil }
func (f *fakeEngine) WriteReg(int, uint64) error       { return nil }
func (f *fakeEngine) Map(base, size uint64, _ core.Protection) error {
	for i := uint64(0); i < size; i++ {
		f.mem[base+i] = 0
	}
	return nil
}
func (f *fakeEngine) Unmap(base, size uint64) error {
	for i := uint64(0); i < size; i++ {
		delete(f.mem, base+i)
	}
	return nil
}
func (f *fakeEngine) Protect(uint64, uint64, core.Protection) error { return nil }
func (f *fakeEngine) MemRead(addr, size uint64) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		out[i] = f.mem[addr+uint64(i)]
	}
	return out, nil
}
func (f *fakeEngine) MemWrite(addr uint64, data []byte) error {
	for i, b := range data {
		f.mem[addr+uint64(i)] = b
	}
	return nil
}
func (f *fakeEngine) HookInstruction(core.InstructionHook) error   { return nil }
func (f *fakeEngine) HookMemoryViolation(core.ViolationHook) error { return nil }

var installedHook core.InterruptHook

func (f *fakeEngine) HookInterrupt(cb core.InterruptHook) error { installedHook = cb; return nil }
func (f *fakeEngine) SaveRegs() ([]byte, error)                 { return nil, nil }
func (f *fakeEngine) RestoreRegs([]byte) error                  { return nil }
func (f *fakeEngine) ReadRegisters() interface{}                { return &f.regs }
func (f *fakeEngine) WriteRegisters(snap interface{}) error {
	f.regs = *snap.(*core.Registers64)
	return nil
}
func (f *fakeEngine) Mode() int      { return core.Mode64 }
func (f *fakeEngine) PtrSize() uint64 { return 8 }

func newTestContext(t *testing.T, engine core.Engine) *process.Context {
	t.Helper()
	mem := memory.NewManager(engine, 0x1000, 0x7fff0000)
	modules := module.NewManager(mem, nil, 0x00400000)
	clocks := process.NewClocks(1700000000, 0, 0)
	return process.NewContext(mem, modules, clocks, "test.exe", nil, 12345)
}

func TestDispatchAllocateVirtualMemory(t *testing.T) {
	engine := newFakeEngine()
	proc := newTestContext(t, engine)
	dispatcher := syscallapi.NewDispatcher(proc, syscallapi.BuildServiceTable())
	if err := dispatcher.Install(engine); err != nil {
		t.Fatalf("Install: %v", err)
	}

	_, err := proc.CreateThread(engine, 0x401000, 0, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := process.SwitchTo(engine, nil, proc.Scheduler.Current()); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	basePtr, err := proc.Mem.AllocMeta(8)
	if err != nil {
		t.Fatalf("AllocMeta: %v", err)
	}
	sizePtr, err := proc.Mem.AllocMeta(8)
	if err != nil {
		t.Fatalf("AllocMeta: %v", err)
	}
	if err := proc.Mem.Write(basePtr, make([]byte, 8), memory.Privileged); err != nil {
		t.Fatalf("Write base: %v", err)
	}
	sizeBuf := make([]byte, 8)
	sizeBuf[0] = 0x00
	sizeBuf[1] = 0x10 // 0x1000
	if err := proc.Mem.Write(sizePtr, sizeBuf, memory.Privileged); err != nil {
		t.Fatalf("Write size: %v", err)
	}

	engine.regs.Rax = uint64(syscallapi.SvcAllocateVirtualMemory)
	engine.regs.Rip = 0x401000
	engine.regs.Rcx = 0 // ProcessHandle
	engine.regs.Rdx = basePtr
	engine.regs.R8 = 0 // ZeroBits
	engine.regs.R9 = sizePtr
	// stack args: AllocationType (MEM_COMMIT|MEM_RESERVE), Protect (PAGE_READWRITE)
	stackBase, err := proc.Mem.Reserve(0, 0x10000, core.ProtRead|core.ProtWrite, memory.TagStack)
	if err != nil {
		t.Fatalf("Reserve stack: %v", err)
	}
	if err := proc.Mem.Commit(stackBase, 0x10000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit stack: %v", err)
	}
	engine.regs.Rsp = stackBase + 0x1000
	writeStackArg(t, proc, engine.regs.Rsp+0x28, 0x3000)
	writeStackArg(t, proc, engine.regs.Rsp+0x30, 0x04)

	installedHook(0)

	if engine.regs.Rax != syscallapi.StatusSuccess {
		t.Fatalf("RAX after dispatch = 0x%x, want STATUS_SUCCESS", engine.regs.Rax)
	}
	if engine.regs.Rip != 0x401002 {
		t.Fatalf("RIP after dispatch = 0x%x, want entry+2", engine.regs.Rip)
	}
}

func writeStackArg(t *testing.T, proc *process.Context, addr, val uint64) {
	t.Helper()
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(val >> (8 * i))
	}
	if err := proc.Mem.Write(addr, buf, memory.Privileged); err != nil {
		t.Fatalf("writeStackArg: %v", err)
	}
}

func TestDispatchWaitForSingleObjectBlocksAndCompletes(t *testing.T) {
	engine := newFakeEngine()
	proc := newTestContext(t, engine)
	dispatcher := syscallapi.NewDispatcher(proc, syscallapi.BuildServiceTable())
	if err := dispatcher.Install(engine); err != nil {
		t.Fatalf("Install: %v", err)
	}

	evt := process.NewEvent(true, false)
	h := proc.Handles.New(process.TagEvent, evt, 0, false)

	th, err := proc.CreateThread(engine, 0x401000, 0, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := process.SwitchTo(engine, nil, proc.Scheduler.Current()); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	engine.regs.Rax = uint64(syscallapi.SvcWaitForSingleObject)
	engine.regs.Rip = 0x401000
	engine.regs.Rcx = uint64(h.Value())
	engine.regs.Rdx = 0
	engine.regs.R8 = 0 // infinite timeout

	installedHook(0)

	if th.State != process.StateWaiting {
		t.Fatalf("thread state = %v, want waiting", th.State)
	}
	if engine.regs.Rip != 0x401002 {
		t.Fatalf("RIP after blocked dispatch = 0x%x, want entry+2", engine.regs.Rip)
	}

	evt.Set()
	next := proc.Scheduler.Next()
	if next != th {
		t.Fatalf("scheduler did not select the woken thread")
	}
	dispatcher.ApplyPendingCompletions()

	snap := th.Regs().(*core.Registers64)
	if snap.Rax != syscallapi.StatusWait0 {
		t.Fatalf("thread RAX after wake = 0x%x, want STATUS_WAIT_0", snap.Rax)
	}
}

// TestDispatchWaitForSingleObjectAlreadyDueTimesOutImmediately covers the
// distinction between a null *Timeout (infinite wait) and a non-null
// *Timeout pointing at an already-expired value: the latter must return
// STATUS_TIMEOUT synchronously against a non-signaled object rather than
// parking the thread, since both used to decode to the same zero deadline.
func TestDispatchWaitForSingleObjectAlreadyDueTimesOutImmediately(t *testing.T) {
	engine := newFakeEngine()
	proc := newTestContext(t, engine)
	dispatcher := syscallapi.NewDispatcher(proc, syscallapi.BuildServiceTable())
	if err := dispatcher.Install(engine); err != nil {
		t.Fatalf("Install: %v", err)
	}

	evt := process.NewEvent(true, false) // never signaled
	h := proc.Handles.New(process.TagEvent, evt, 0, false)

	th, err := proc.CreateThread(engine, 0x401000, 0, 0)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := process.SwitchTo(engine, nil, proc.Scheduler.Current()); err != nil {
		t.Fatalf("SwitchTo: %v", err)
	}

	timeoutPtr, err := proc.Mem.AllocMeta(8)
	if err != nil {
		t.Fatalf("AllocMeta: %v", err)
	}
	if err := proc.Mem.Write(timeoutPtr, make([]byte, 8), memory.Privileged); err != nil {
		t.Fatalf("Write timeout: %v", err)
	}

	engine.regs.Rax = uint64(syscallapi.SvcWaitForSingleObject)
	engine.regs.Rip = 0x401000
	engine.regs.Rcx = uint64(h.Value())
	engine.regs.Rdx = 0
	engine.regs.R8 = timeoutPtr // *Timeout == 0: already due, not a null pointer

	installedHook(0)

	if th.State == process.StateWaiting {
		t.Fatalf("thread state = waiting, want the already-due timeout to resolve without blocking")
	}
	if engine.regs.Rax != syscallapi.StatusTimeout {
		t.Fatalf("RAX after dispatch = 0x%x, want STATUS_TIMEOUT", engine.regs.Rax)
	}
}
