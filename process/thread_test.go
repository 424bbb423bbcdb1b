package process_test

import (
	"testing"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/process"
)

func TestSetInitialRegistersSeeds64BitEntryStackAndArg(t *testing.T) {
	th := process.NewThread(4, 0x10000, 0x20000, 0x30000)
	th.SetInitialRegisters(core.Mode64, 0x140001000, 0x1ffff8, 0x9)

	engine := &recordingEngine{}
	if err := th.RestoreContext(engine); err != nil {
		t.Fatalf("RestoreContext: %v", err)
	}
	got := engine.last.(*core.Registers64)
	if got.Rip != 0x140001000 || got.Rsp != 0x1ffff8 || got.Rcx != 0x9 {
		t.Errorf("restored regs = %+v, want rip/rsp/rcx seeded from SetInitialRegisters", got)
	}
}

func TestAPCQueueIsFIFO(t *testing.T) {
	th := process.NewThread(4, 0, 0, 0)
	th.QueueAPC(0x1000, 0xa)
	th.QueueAPC(0x2000, 0xb)

	first, ok := th.NextAPC()
	if !ok || first.Routine != 0x1000 {
		t.Fatalf("first APC = %+v, ok=%v, want routine 0x1000", first, ok)
	}
	second, ok := th.NextAPC()
	if !ok || second.Routine != 0x2000 {
		t.Fatalf("second APC = %+v, ok=%v, want routine 0x2000", second, ok)
	}
	if _, ok := th.NextAPC(); ok {
		t.Fatal("NextAPC should report no more pending APCs")
	}
}

type recordingEngine struct{ last interface{} }

func (r *recordingEngine) Run(uint64, uint64, uint64) error { return nil }
func (r *recordingEngine) Stop() error                      { return nil }
func (r *recordingEngine) ReadReg(int) (uint64, error)      { return 0, nil }
func (r *recordingEngine) WriteReg(int, uint64) error       { return nil }
func (r *recordingEngine) Map(uint64, uint64, core.Protection) error    { return nil }
func (r *recordingEngine) Unmap(uint64, uint64) error                   { return nil }
func (r *recordingEngine) Protect(uint64, uint64, core.Protection) error { return nil }
func (r *recordingEngine) MemRead(uint64, uint64) ([]byte, error)       { return nil, nil }
func (r *recordingEngine) MemWrite(uint64, []byte) error                { return nil }
func (r *recordingEngine) HookInstruction(core.InstructionHook) error   { return nil }
func (r *recordingEngine) HookMemoryViolation(core.ViolationHook) error { return nil }
func (r *recordingEngine) HookInterrupt(core.InterruptHook) error       { return nil }
func (r *recordingEngine) SaveRegs() ([]byte, error)                    { return nil, nil }
func (r *recordingEngine) RestoreRegs([]byte) error                     { return nil }
func (r *recordingEngine) ReadRegisters() interface{}                   { return r.last }
func (r *recordingEngine) WriteRegisters(snap interface{}) error        { r.last = snap; return nil }
func (r *recordingEngine) Mode() int                                    { return core.Mode64 }
func (r *recordingEngine) PtrSize() uint64                              { return 8 }
