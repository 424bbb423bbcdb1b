package util_test

import (
	"testing"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/util"
)

func newManager(t *testing.T) *memory.Manager {
	t.Helper()
	return memory.NewManager(&fakeEngine{mem: make(map[uint64]byte)}, 0x1000, 0x7fff0000)
}

type fakeEngine struct{ mem map[uint64]byte }

func (f *fakeEngine) Run(uint64, uint64, uint64) error       { return nil }
func (f *fakeEngine) Stop() error                            { return nil }
func (f *fakeEngine) ReadReg(int) (uint64, error)            { return 0, nil }
func (f *fakeEngine) WriteReg(int, uint64) error             { return nil }
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
func (f *fakeEngine) HookInstruction(core.InstructionHook) error     { return nil }
func (f *fakeEngine) HookMemoryViolation(core.ViolationHook) error   { return nil }
func (f *fakeEngine) HookInterrupt(core.InterruptHook) error         { return nil }
func (f *fakeEngine) SaveRegs() ([]byte, error)                      { return nil, nil }
func (f *fakeEngine) RestoreRegs([]byte) error                       { return nil }
func (f *fakeEngine) ReadRegisters() interface{}                     { return &core.Registers64{} }
func (f *fakeEngine) WriteRegisters(interface{}) error               { return nil }
func (f *fakeEngine) Mode() int                                      { return core.Mode64 }
func (f *fakeEngine) PtrSize() uint64                                { return 8 }

func TestReadWriteASCII(t *testing.T) {
	mem := newManager(t)
	base, err := mem.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := mem.Commit(base, 0x1000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	n, err := util.WriteASCIIZ(mem, base, "hello", memory.Guest)
	if err != nil {
		t.Fatalf("WriteASCIIZ: %v", err)
	}
	if n != 6 {
		t.Fatalf("wrote %d bytes, want 6", n)
	}
	got := util.ReadASCII(mem, base, 0, memory.Guest)
	if got != "hello" {
		t.Fatalf("ReadASCII = %q, want hello", got)
	}
}

func TestReadWriteWideChar(t *testing.T) {
	mem := newManager(t)
	base, err := mem.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := mem.Commit(base, 0x1000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := util.WriteWideCharZ(mem, base, "hi", memory.Guest); err != nil {
		t.Fatalf("WriteWideCharZ: %v", err)
	}
	got := util.ReadWideChar(mem, base, 0, memory.Guest)
	if got != "hi" {
		t.Fatalf("ReadWideChar = %q, want hi", got)
	}
}

func TestPointerRoundTrip(t *testing.T) {
	mem := newManager(t)
	base, err := mem.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := mem.Commit(base, 0x1000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := util.PutPointer(mem, 8, base, 0xdeadbeef, memory.Guest); err != nil {
		t.Fatalf("PutPointer: %v", err)
	}
	got, err := util.GetPointer(mem, 8, base, memory.Guest)
	if err != nil {
		t.Fatalf("GetPointer: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("GetPointer = 0x%x, want 0xdeadbeef", got)
	}
}

func TestStackPushPop(t *testing.T) {
	mem := newManager(t)
	base, err := mem.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagStack)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := mem.Commit(base, 0x1000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap := &core.Registers64{Rsp: base + 0x800}
	if err := util.PushStack(mem, 8, snap, 0x1234); err != nil {
		t.Fatalf("PushStack: %v", err)
	}
	if snap.Rsp != base+0x800-8 {
		t.Fatalf("Rsp after push = 0x%x", snap.Rsp)
	}
	val, err := util.PopStack(mem, 8, snap)
	if err != nil {
		t.Fatalf("PopStack: %v", err)
	}
	if val != 0x1234 {
		t.Fatalf("PopStack = 0x%x, want 0x1234", val)
	}
	if snap.Rsp != base+0x800 {
		t.Fatalf("Rsp after pop = 0x%x", snap.Rsp)
	}
}

func TestRegisterByName(t *testing.T) {
	snap := &core.Registers64{Rax: 42, Rcx: 7}
	v, err := util.RegisterByName(snap, "RAX")
	if err != nil {
		t.Fatalf("RegisterByName: %v", err)
	}
	if v != 42 {
		t.Fatalf("RegisterByName(rax) = %d, want 42", v)
	}
	if _, err := util.RegisterByName(snap, "zz"); err == nil {
		t.Fatalf("expected error for unknown register")
	}
}

func TestParseFormatter(t *testing.T) {
	got := util.ParseFormatter("%s has %d items (%%done)")
	want := []string{"s", "d"}
	if len(got) != len(want) {
		t.Fatalf("ParseFormatter = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseFormatter[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRandomNameDeterministic(t *testing.T) {
	seq := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
	i := 0
	next := func() uint64 {
		v := seq[i%len(seq)]
		i++
		return v
	}
	a := util.RandomName(6, next)
	i = 0
	b := util.RandomName(6, next)
	if a != b {
		t.Fatalf("RandomName not deterministic given same generator sequence: %q vs %q", a, b)
	}
}
