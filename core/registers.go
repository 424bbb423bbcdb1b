package core

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Registers64 is a readable snapshot of the x86-64 GPRs, used for logging
// and for the thread-switch path in process.Scheduler, extended with the
// segment bases a snapshot.ThreadRecord carries to round-trip thread state.
type Registers64 struct {
	Rip, Rsp, Rax, Rbx, Rcx, Rdx, Rsi, Rdi, Rbp uint64
	R8, R9, R10, R11, R12, R13, R14, R15        uint64
	Rflags                                      uint64
	FsBase, GsBase                              uint64
}

func (r *Registers64) String() string {
	return fmt.Sprintf("rip=0x%016x rsp=0x%016x rax=0x%016x rcx=0x%016x rdx=0x%016x r8=0x%016x r9=0x%016x",
		r.Rip, r.Rsp, r.Rax, r.Rcx, r.Rdx, r.R8, r.R9)
}

// Registers32 is the WOW64-thread counterpart to Registers64.
type Registers32 struct {
	Eip, Esp, Eax, Ebx, Ecx, Edx, Esi, Edi, Ebp uint64
	Eflags                                      uint64
}

func (r *Registers32) String() string {
	return fmt.Sprintf("eip=0x%08x esp=0x%08x eax=0x%08x ecx=0x%08x edx=0x%08x", r.Eip, r.Esp, r.Eax, r.Ecx, r.Edx)
}

// ReadRegisters captures a readable register snapshot from the engine,
// choosing the 32 or 64-bit shape based on mode.
func (e *Unicorn) ReadRegisters() interface{} {
	if e.mode == Mode32 {
		r := &Registers32{}
		r.Eip, _ = e.uc.RegRead(uc.X86_REG_EIP)
		r.Esp, _ = e.uc.RegRead(uc.X86_REG_ESP)
		r.Eax, _ = e.uc.RegRead(uc.X86_REG_EAX)
		r.Ebx, _ = e.uc.RegRead(uc.X86_REG_EBX)
		r.Ecx, _ = e.uc.RegRead(uc.X86_REG_ECX)
		r.Edx, _ = e.uc.RegRead(uc.X86_REG_EDX)
		r.Esi, _ = e.uc.RegRead(uc.X86_REG_ESI)
		r.Edi, _ = e.uc.RegRead(uc.X86_REG_EDI)
		r.Ebp, _ = e.uc.RegRead(uc.X86_REG_EBP)
		r.Eflags, _ = e.uc.RegRead(uc.X86_REG_EFLAGS)
		return r
	}

	r := &Registers64{}
	r.Rip, _ = e.uc.RegRead(uc.X86_REG_RIP)
	r.Rsp, _ = e.uc.RegRead(uc.X86_REG_RSP)
	r.Rax, _ = e.uc.RegRead(uc.X86_REG_RAX)
	r.Rbx, _ = e.uc.RegRead(uc.X86_REG_RBX)
	r.Rcx, _ = e.uc.RegRead(uc.X86_REG_RCX)
	r.Rdx, _ = e.uc.RegRead(uc.X86_REG_RDX)
	r.Rsi, _ = e.uc.RegRead(uc.X86_REG_RSI)
	r.Rdi, _ = e.uc.RegRead(uc.X86_REG_RDI)
	r.Rbp, _ = e.uc.RegRead(uc.X86_REG_RBP)
	r.R8, _ = e.uc.RegRead(uc.X86_REG_R8)
	r.R9, _ = e.uc.RegRead(uc.X86_REG_R9)
	r.R10, _ = e.uc.RegRead(uc.X86_REG_R10)
	r.R11, _ = e.uc.RegRead(uc.X86_REG_R11)
	r.R12, _ = e.uc.RegRead(uc.X86_REG_R12)
	r.R13, _ = e.uc.RegRead(uc.X86_REG_R13)
	r.R14, _ = e.uc.RegRead(uc.X86_REG_R14)
	r.R15, _ = e.uc.RegRead(uc.X86_REG_R15)
	r.Rflags, _ = e.uc.RegRead(uc.X86_REG_EFLAGS)
	r.FsBase, _ = e.uc.RegRead(uc.X86_REG_FS_BASE)
	r.GsBase, _ = e.uc.RegRead(uc.X86_REG_GS_BASE)
	return r
}

// WriteRegisters restores a snapshot captured by ReadRegisters, used by the
// scheduler on every context switch to push the incoming thread's state
// into the engine, including the FS/GS bases that point at its TEB.
func (e *Unicorn) WriteRegisters(snap interface{}) error {
	if e.mode == Mode32 {
		r := snap.(*Registers32)
		writes := map[int]uint64{
			uc.X86_REG_EIP: r.Eip, uc.X86_REG_ESP: r.Esp, uc.X86_REG_EAX: r.Eax,
			uc.X86_REG_EBX: r.Ebx, uc.X86_REG_ECX: r.Ecx, uc.X86_REG_EDX: r.Edx,
			uc.X86_REG_ESI: r.Esi, uc.X86_REG_EDI: r.Edi, uc.X86_REG_EBP: r.Ebp,
			uc.X86_REG_EFLAGS: r.Eflags,
		}
		for id, v := range writes {
			if err := e.uc.RegWrite(id, v); err != nil {
				return err
			}
		}
		return nil
	}

	r := snap.(*Registers64)
	writes := map[int]uint64{
		uc.X86_REG_RIP: r.Rip, uc.X86_REG_RSP: r.Rsp, uc.X86_REG_RAX: r.Rax,
		uc.X86_REG_RBX: r.Rbx, uc.X86_REG_RCX: r.Rcx, uc.X86_REG_RDX: r.Rdx,
		uc.X86_REG_RSI: r.Rsi, uc.X86_REG_RDI: r.Rdi, uc.X86_REG_RBP: r.Rbp,
		uc.X86_REG_R8: r.R8, uc.X86_REG_R9: r.R9, uc.X86_REG_R10: r.R10,
		uc.X86_REG_R11: r.R11, uc.X86_REG_R12: r.R12, uc.X86_REG_R13: r.R13,
		uc.X86_REG_R14: r.R14, uc.X86_REG_R15: r.R15, uc.X86_REG_EFLAGS: r.Rflags,
		uc.X86_REG_FS_BASE: r.FsBase, uc.X86_REG_GS_BASE: r.GsBase,
	}
	for id, v := range writes {
		if err := e.uc.RegWrite(id, v); err != nil {
			return err
		}
	}
	return nil
}
