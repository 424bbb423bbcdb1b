package memory_test

import (
	"bytes"
	"testing"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
)

// fakeEngine is a minimal core.Engine that models guest memory as a plain
// byte map, enough to exercise memory.Manager without unicorn-engine.
type fakeEngine struct {
	pages map[uint64][]byte
	prot  map[uint64]core.Protection
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{pages: map[uint64][]byte{}, prot: map[uint64]core.Protection{}}
}

func (f *fakeEngine) Run(uint64, uint64, uint64) error         { return nil }
func (f *fakeEngine) Stop() error                              { return nil }
func (f *fakeEngine) ReadReg(int) (uint64, error)               { return 0, nil }
func (f *fakeEngine) WriteReg(int, uint64) error                { return nil }

func (f *fakeEngine) Map(base, size uint64, prot core.Protection) error {
	f.pages[base] = make([]byte, size)
	f.prot[base] = prot
	return nil
}

func (f *fakeEngine) Unmap(base, size uint64) error {
	delete(f.pages, base)
	delete(f.prot, base)
	return nil
}

func (f *fakeEngine) Protect(base, size uint64, prot core.Protection) error {
	f.prot[base] = prot
	return nil
}

func (f *fakeEngine) MemRead(addr, size uint64) ([]byte, error) {
	for base, buf := range f.pages {
		if addr >= base && addr+size <= base+uint64(len(buf)) {
			off := addr - base
			out := make([]byte, size)
			copy(out, buf[off:off+size])
			return out, nil
		}
	}
	return make([]byte, size), nil
}

func (f *fakeEngine) MemWrite(addr uint64, data []byte) error {
	for base, buf := range f.pages {
		if addr >= base && addr+uint64(len(data)) <= base+uint64(len(buf)) {
			copy(buf[addr-base:], data)
			return nil
		}
	}
	return nil
}

func (f *fakeEngine) HookInstruction(core.InstructionHook) error       { return nil }
func (f *fakeEngine) HookMemoryViolation(core.ViolationHook) error     { return nil }
func (f *fakeEngine) HookInterrupt(core.InterruptHook) error           { return nil }
func (f *fakeEngine) SaveRegs() ([]byte, error)                        { return nil, nil }
func (f *fakeEngine) RestoreRegs([]byte) error                         { return nil }
func (f *fakeEngine) ReadRegisters() interface{}                       { return &core.Registers64{} }
func (f *fakeEngine) WriteRegisters(interface{}) error                 { return nil }
func (f *fakeEngine) Mode() int                                        { return core.Mode64 }
func (f *fakeEngine) PtrSize() uint64                                  { return 8 }

func TestReserveCommitProtectRoundTrip(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	base, err := m.Reserve(0, 0x2000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := m.Commit(base, 0x2000, core.ProtRead|core.ProtWrite); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	old, err := m.Protect(base, 0x1000, core.ProtRead)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if old != core.ProtRead|core.ProtWrite {
		t.Errorf("Protect returned old=%v, want RW", old)
	}

	restored, err := m.Protect(base, 0x1000, old)
	if err != nil {
		t.Fatalf("Protect restore: %v", err)
	}
	if restored != core.ProtRead {
		t.Errorf("Protect restore returned %v, want ProtRead", restored)
	}
}

func TestCommitBeyondReservationFails(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	base, err := m.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := m.Commit(base, 0x2000, core.ProtRead|core.ProtWrite); err == nil {
		t.Fatal("Commit beyond reservation end should fail")
	}
}

func TestReserveUnalignedHintFails(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	if _, err := m.Reserve(0x10001, 0x1000, core.ProtRead, memory.TagPrivate); err == nil {
		t.Fatal("Reserve at unaligned hint should fail")
	}
}

func TestReadWriteHonorsGuestProtection(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	base, _ := m.Reserve(0, 0x1000, core.ProtRead, memory.TagPrivate)
	if err := m.Commit(base, 0x1000, core.ProtRead); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := m.Write(base, []byte("hi"), memory.Guest); err == nil {
		t.Fatal("guest write to read-only page should fail")
	}

	if err := m.Write(base, []byte("hi"), memory.Privileged); err != nil {
		t.Fatalf("privileged write should bypass protection: %v", err)
	}

	got, err := m.Read(base, 2, memory.Guest)
	if err != nil {
		t.Fatalf("guest read of readable page: %v", err)
	}
	if !bytes.Equal(got, []byte("hi")) {
		t.Errorf("Read got %q, want %q", got, "hi")
	}
}

func TestReleaseThenQueryFails(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	base, _ := m.Reserve(0, 0x1000, core.ProtRead|core.ProtWrite, memory.TagPrivate)
	if err := m.Release(base, 0x1000); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := m.Query(base); err == nil {
		t.Fatal("Query after Release should fail")
	}
}

func TestAllocMetaGrowsAndTracksAsHeapRegion(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	a, err := m.AllocMeta(0x100)
	if err != nil {
		t.Fatalf("AllocMeta: %v", err)
	}
	b, err := m.AllocMeta(0x100)
	if err != nil {
		t.Fatalf("AllocMeta: %v", err)
	}
	if b <= a {
		t.Errorf("second AllocMeta returned %#x, want > %#x", b, a)
	}

	info, err := m.Query(a)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if info.Tag != memory.TagHeap {
		t.Errorf("AllocMeta region tagged %v, want TagHeap", info.Tag)
	}
}

// TestAllocMetaGrowsPastTheInitialChunk forces a second 0x10000 growth
// chunk to be committed: the growth branch must reserve the new range
// before committing it, since Commit requires an existing reservation to
// cover its target range and metaEnd sits exactly on the previous chunk's
// end boundary.
func TestAllocMetaGrowsPastTheInitialChunk(t *testing.T) {
	m := memory.NewManager(newFakeEngine(), 0x10000, 0x7fffffff0000)

	if _, err := m.AllocMeta(0xff00); err != nil {
		t.Fatalf("AllocMeta: %v", err)
	}
	// 0xff00 rounds up to a full 0x10000 page run, so the first chunk is
	// used up; this allocation forces growth.
	c, err := m.AllocMeta(0x200)
	if err != nil {
		t.Fatalf("AllocMeta triggering growth: %v", err)
	}

	info, err := m.Query(c)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if info.Tag != memory.TagHeap {
		t.Errorf("grown AllocMeta region tagged %v, want TagHeap", info.Tag)
	}
}
