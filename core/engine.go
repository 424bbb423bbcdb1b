// Package core wraps the external CPU emulation engine (unicorn-engine) and
// exposes the narrow set of operations the rest of ntwine needs: register
// access, guest page table management, and hook installation. Nothing
// outside this package imports unicorn directly.
package core

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Arch and Mode mirror the two configurations ntwine supports. The system
// targets x86-64, but 32-bit WOW64 processes reuse the same engine in
// MODE_32.
const (
	ArchX86 = uc.ARCH_X86
	Mode32  = uc.MODE_32
	Mode64  = uc.MODE_64
)

// Protection bits, independent of unicorn's own PROT_* constants so callers
// never need to import unicorn to describe a page's protection.
type Protection uint32

const (
	ProtNone Protection = 0
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
	ProtGuard
)

func (p Protection) ucProt() int {
	prot := 0
	if p&ProtRead != 0 {
		prot |= uc.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= uc.PROT_WRITE
	}
	if p&ProtExec != 0 {
		prot |= uc.PROT_EXEC
	}
	return prot
}

// InstructionHook fires once per guest instruction with its address and
// size, matching unicorn's HOOK_CODE granularity.
type InstructionHook func(addr uint64, size uint32)

// ViolationHook fires on unmapped or protection-violating memory access.
// Returning true tells the engine the access was "handled" and execution
// may continue; false aborts the run.
type ViolationHook func(access int, addr uint64, size int, value int64) bool

// InterruptHook fires on `syscall`, `int`, and CPU exceptions.
type InterruptHook func(intno uint32)

// Engine is the CPU engine contract the rest of ntwine consumes. It is
// satisfied by *Unicorn below; callers should depend on the interface so
// tests can swap in a fake.
type Engine interface {
	Run(startAddr, untilAddr uint64, maxInstructions uint64) error
	Stop() error

	ReadReg(id int) (uint64, error)
	WriteReg(id int, value uint64) error

	Map(base, size uint64, prot Protection) error
	Unmap(base, size uint64) error
	Protect(base, size uint64, prot Protection) error

	MemRead(addr, size uint64) ([]byte, error)
	MemWrite(addr uint64, data []byte) error

	HookInstruction(cb InstructionHook) error
	HookMemoryViolation(cb ViolationHook) error
	HookInterrupt(cb InterruptHook) error

	SaveRegs() ([]byte, error)
	RestoreRegs(blob []byte) error

	// ReadRegisters/WriteRegisters carry a live, in-process register
	// snapshot (a *Registers32 or *Registers64, chosen by Mode()) for fast
	// thread-to-thread context switches, as opposed to SaveRegs/RestoreRegs'
	// serialized blob form used by the snapshot package.
	ReadRegisters() interface{}
	WriteRegisters(snap interface{}) error

	Mode() int
	PtrSize() uint64
}

// Unicorn is the concrete Engine backed by unicorn-engine/unicorn, treated
// as an external collaborator: it owns instruction decode/execute, and
// this package only pokes registers, memory, and hook points.
type Unicorn struct {
	uc      uc.Unicorn
	mode    int
	ptrSize uint64

	codeHookID int
	violHookID int
	intrHookID int
}

// NewUnicorn constructs a fresh unicorn instance for x86 in the given mode
// (Mode32 or Mode64).
func NewUnicorn(mode int) (*Unicorn, error) {
	engine, err := uc.NewUnicorn(ArchX86, mode)
	if err != nil {
		return nil, err
	}

	ptrSize := uint64(4)
	if mode == Mode64 {
		ptrSize = 8
	}

	return &Unicorn{uc: engine, mode: mode, ptrSize: ptrSize}, nil
}

func (e *Unicorn) Mode() int       { return e.mode }
func (e *Unicorn) PtrSize() uint64 { return e.ptrSize }

// Run executes starting at startAddr for at most maxInstructions
// instructions (0 means unbounded), stopping early on a hook-driven Stop()
// or a fatal engine error. untilAddr of 0 means "run until stopped".
func (e *Unicorn) Run(startAddr, untilAddr uint64, maxInstructions uint64) error {
	return e.uc.StartWithOptions(startAddr, untilAddr, &uc.UcOptions{Count: maxInstructions})
}

// Stop requests the current Run to return at the next safe point, matching
// unicorn's own best-effort semantics (checked between instructions, never
// mid-instruction).
func (e *Unicorn) Stop() error {
	return e.uc.Stop()
}

func (e *Unicorn) ReadReg(id int) (uint64, error) {
	return e.uc.RegRead(id)
}

func (e *Unicorn) WriteReg(id int, value uint64) error {
	return e.uc.RegWrite(id, value)
}

func (e *Unicorn) Map(base, size uint64, prot Protection) error {
	if err := e.uc.MemMap(base, size); err != nil {
		return err
	}
	if prot != ProtNone {
		return e.uc.MemProtect(base, size, prot.ucProt())
	}
	return nil
}

func (e *Unicorn) Unmap(base, size uint64) error {
	return e.uc.MemUnmap(base, size)
}

func (e *Unicorn) Protect(base, size uint64, prot Protection) error {
	return e.uc.MemProtect(base, size, prot.ucProt())
}

func (e *Unicorn) MemRead(addr, size uint64) ([]byte, error) {
	return e.uc.MemRead(addr, size)
}

func (e *Unicorn) MemWrite(addr uint64, data []byte) error {
	return e.uc.MemWrite(addr, data)
}

func (e *Unicorn) HookInstruction(cb InstructionHook) error {
	id, err := e.uc.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, addr uint64, size uint32) {
		cb(addr, size)
	}, 1, 0)
	if err != nil {
		return err
	}
	e.codeHookID = id
	return nil
}

func (e *Unicorn) HookMemoryViolation(cb ViolationHook) error {
	mask := uc.HOOK_MEM_WRITE_PROT | uc.HOOK_MEM_READ_PROT | uc.HOOK_MEM_FETCH_PROT |
		uc.HOOK_MEM_UNMAPPED | uc.HOOK_MEM_FETCH_UNMAPPED | uc.HOOK_MEM_READ_UNMAPPED |
		uc.HOOK_MEM_WRITE_UNMAPPED | uc.HOOK_MEM_INVALID | uc.HOOK_MEM_READ_INVALID |
		uc.HOOK_MEM_WRITE_INVALID | uc.HOOK_MEM_FETCH_INVALID

	id, err := e.uc.HookAdd(mask, func(_ uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		return cb(access, addr, size, value)
	}, 1, 0)
	if err != nil {
		return err
	}
	e.violHookID = id
	return nil
}

func (e *Unicorn) HookInterrupt(cb InterruptHook) error {
	id, err := e.uc.HookAdd(uc.HOOK_INTR, func(_ uc.Unicorn, intno uint32) {
		cb(intno)
	}, 1, 0)
	if err != nil {
		return err
	}
	e.intrHookID = id
	return nil
}

// registerSet lists the register IDs saved/restored as a unit. Kept in a
// fixed order so SaveRegs/RestoreRegs round-trip byte-identically.
func (e *Unicorn) registerSet() []int {
	if e.mode == Mode32 {
		return []int{
			uc.X86_REG_EAX, uc.X86_REG_EBX, uc.X86_REG_ECX, uc.X86_REG_EDX,
			uc.X86_REG_ESI, uc.X86_REG_EDI, uc.X86_REG_EBP, uc.X86_REG_ESP,
			uc.X86_REG_EIP, uc.X86_REG_EFLAGS,
			uc.X86_REG_CS, uc.X86_REG_DS, uc.X86_REG_ES, uc.X86_REG_FS,
			uc.X86_REG_GS, uc.X86_REG_SS,
		}
	}
	return []int{
		uc.X86_REG_RAX, uc.X86_REG_RBX, uc.X86_REG_RCX, uc.X86_REG_RDX,
		uc.X86_REG_RSI, uc.X86_REG_RDI, uc.X86_REG_RBP, uc.X86_REG_RSP,
		uc.X86_REG_R8, uc.X86_REG_R9, uc.X86_REG_R10, uc.X86_REG_R11,
		uc.X86_REG_R12, uc.X86_REG_R13, uc.X86_REG_R14, uc.X86_REG_R15,
		uc.X86_REG_RIP, uc.X86_REG_EFLAGS,
		uc.X86_REG_CS, uc.X86_REG_DS, uc.X86_REG_ES, uc.X86_REG_FS,
		uc.X86_REG_GS, uc.X86_REG_SS,
		uc.X86_REG_FS_BASE, uc.X86_REG_GS_BASE,
	}
}

// SaveRegs returns an opaque, versioned blob of every register in the
// current register set. The blob is a flat sequence of little-endian
// uint64s in registerSet() order, prefixed with a version byte.
func (e *Unicorn) SaveRegs() ([]byte, error) {
	regs := e.registerSet()
	blob := make([]byte, 1+8*len(regs))
	blob[0] = regBlobVersion
	for i, id := range regs {
		v, err := e.uc.RegRead(id)
		if err != nil {
			return nil, err
		}
		putUint64(blob[1+8*i:], v)
	}
	return blob, nil
}

const regBlobVersion = 1

func (e *Unicorn) RestoreRegs(blob []byte) error {
	if len(blob) == 0 || blob[0] != regBlobVersion {
		return errInvalidRegBlob
	}
	regs := e.registerSet()
	if len(blob) != 1+8*len(regs) {
		return errInvalidRegBlob
	}
	for i, id := range regs {
		v := getUint64(blob[1+8*i:])
		if err := e.uc.RegWrite(id, v); err != nil {
			return err
		}
	}
	return nil
}
