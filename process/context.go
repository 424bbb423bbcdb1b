package process

import (
	"encoding/binary"
	"fmt"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/module"
	"github.com/coldharbor/ntwine/registry"
)

// PEB is a simplified Process Environment Block carrying only the fields
// guest code realistically reads (ImageBaseAddress, Ldr,
// ProcessParameters, BeingDebugged), not a byte-exact reproduction of the
// real structure's dozens of fields. See DESIGN.md's module package entry
// for why this lives here instead of in module.Manager.
type PEB struct {
	Address           uint64
	ImageBaseAddress  uint64
	LdrAddress        uint64
	ProcessParameters uint64
	BeingDebugged     bool
}

// TEB is the simplified Thread Environment Block counterpart, carrying
// only the fields a hooked API or the guest's own SEH/TLS access needs.
type TEB struct {
	Address        uint64
	PEBAddress     uint64
	StackBase      uint64
	StackLimit     uint64
	ThreadID       uint32
	TLSSlots       [64]uint64
	ExceptionChain uint64
}

// Context is one emulated process: its module list, address space, handle
// table, threads, scheduler, and clocks, split across memory/module/process
// so each stays independently testable rather than living in one god
// struct.
type Context struct {
	Mem      *memory.Manager
	Modules  *module.Manager
	Handles  *Table
	Clocks   *Clocks
	Registry registry.Backend
	Files    *VFS

	Threads   map[uint32]*Thread
	Scheduler *Scheduler
	nextTID   uint32

	PEB *PEB

	CommandLine string
	Environment map[string]string
	rngState    uint64
}

// NewContext wires together a fresh process context around an already
// constructed memory and module manager.
func NewContext(mem *memory.Manager, modules *module.Manager, clocks *Clocks, commandLine string, env map[string]string, rngSeed uint64) *Context {
	ctx := &Context{
		Mem:         mem,
		Modules:     modules,
		Handles:     NewTable(),
		Clocks:      clocks,
		Registry:    registry.NewTree(),
		Files:       NewVFS(),
		Threads:     make(map[uint32]*Thread),
		CommandLine: commandLine,
		Environment: env,
		rngState:    rngSeed | 1,
	}
	ctx.Scheduler = NewScheduler(ctx, 0)
	return ctx
}

// InitPEB allocates and populates the PEB in guest metadata memory once the
// primary module is mapped.
func (c *Context) InitPEB(ldrAddress, processParameters uint64) error {
	main, ok := c.primaryModule()
	if !ok {
		return fmt.Errorf("process: InitPEB called before a primary module is mapped")
	}

	size := uint64(0x20) // ImageBase + Ldr + ProcessParameters + BeingDebugged, padded
	addr, err := c.Mem.AllocMeta(size)
	if err != nil {
		return fmt.Errorf("process: allocating PEB: %w", err)
	}

	c.PEB = &PEB{
		Address:           addr,
		ImageBaseAddress:  main.Base,
		LdrAddress:        ldrAddress,
		ProcessParameters: processParameters,
	}
	return c.writePEB()
}

func (c *Context) writePEB() error {
	buf := make([]byte, 0x20)
	binary.LittleEndian.PutUint64(buf[0x08:], c.PEB.ImageBaseAddress)
	binary.LittleEndian.PutUint64(buf[0x10:], c.PEB.LdrAddress)
	binary.LittleEndian.PutUint64(buf[0x18:], c.PEB.ProcessParameters)
	if c.PEB.BeingDebugged {
		buf[0x02] = 1
	}
	return c.Mem.Write(c.PEB.Address, buf, memory.Privileged)
}

func (c *Context) primaryModule() (*module.Module, bool) {
	for _, m := range c.Modules.Modules() {
		if m.IsPrimary {
			return m, true
		}
	}
	return nil, false
}

// CreateThread allocates a stack and TEB, builds a Thread, seeds its
// initial register state at entry, and enqueues it with the scheduler.
func (c *Context) CreateThread(engine core.Engine, entry, arg uint64, stackSize uint64) (*Thread, error) {
	if stackSize == 0 {
		stackSize = 0x100000
	}
	stackBase, err := c.Mem.Reserve(0, stackSize, core.ProtRead|core.ProtWrite, memory.TagStack)
	if err != nil {
		return nil, fmt.Errorf("process: reserving stack: %w", err)
	}
	if err := c.Mem.Commit(stackBase, stackSize, core.ProtRead|core.ProtWrite); err != nil {
		return nil, fmt.Errorf("process: committing stack: %w", err)
	}
	stackTop := stackBase + stackSize

	tebAddr, err := c.Mem.AllocMeta(0x1000)
	if err != nil {
		return nil, fmt.Errorf("process: allocating TEB: %w", err)
	}

	tid := c.allocTID()
	t := NewThread(tid, stackBase, stackTop, tebAddr)

	sp := stackTop - uint64(engine.PtrSize())*4
	returnAddr := make([]byte, engine.PtrSize())
	if err := c.Mem.Write(sp, returnAddr, memory.Privileged); err != nil {
		return nil, fmt.Errorf("process: writing initial stack frame: %w", err)
	}

	t.SetInitialRegisters(engine.Mode(), entry, sp, arg)

	if err := c.InitTEB(t); err != nil {
		return nil, err
	}

	c.Threads[tid] = t
	c.Scheduler.AddThread(t)
	return t, nil
}

func (c *Context) allocTID() uint32 {
	c.nextTID += 4
	if c.nextTID == 0 {
		c.nextTID = 4
	}
	return c.nextTID
}

// TerminateThread marks a thread terminated, records its exit code, and
// removes it from the run queue. Waiters on its ThreadObject see it
// signaled when the scheduler next polls them; mutants it owns are not
// released.
func (c *Context) TerminateThread(tid uint32, exitCode uint32) {
	t, ok := c.Threads[tid]
	if !ok {
		return
	}
	t.State = StateTerminated
	t.ExitCode = exitCode
	c.Scheduler.RemoveThread(tid)
}

// NextRandom advances an xorshift64* PRNG seeded at construction, so its
// sequence is reproducible from the seed rather than pulled from the host's
// entropy pool. No syscallapi handler calls it; it fits the generator
// parameter of util.RandomName.
func (c *Context) NextRandom() uint64 {
	x := c.rngState
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	c.rngState = x
	return x * 2685821657736338717
}
