package util

import (
	"fmt"
	"strings"

	"github.com/coldharbor/ntwine/core"
)

// RegisterByName reads a named register (case-insensitive, e.g. "eax" or
// "rax") out of a snapshot returned by core.Engine.ReadRegisters.
func RegisterByName(snap interface{}, name string) (uint64, error) {
	name = strings.ToLower(name)
	switch r := snap.(type) {
	case *core.Registers32:
		switch name {
		case "eip":
			return r.Eip, nil
		case "esp":
			return r.Esp, nil
		case "eax":
			return r.Eax, nil
		case "ebx":
			return r.Ebx, nil
		case "ecx":
			return r.Ecx, nil
		case "edx":
			return r.Edx, nil
		case "esi":
			return r.Esi, nil
		case "edi":
			return r.Edi, nil
		case "ebp":
			return r.Ebp, nil
		case "eflags":
			return r.Eflags, nil
		}
	case *core.Registers64:
		switch name {
		case "rip":
			return r.Rip, nil
		case "rsp":
			return r.Rsp, nil
		case "rax":
			return r.Rax, nil
		case "rbx":
			return r.Rbx, nil
		case "rcx":
			return r.Rcx, nil
		case "rdx":
			return r.Rdx, nil
		case "rsi":
			return r.Rsi, nil
		case "rdi":
			return r.Rdi, nil
		case "rbp":
			return r.Rbp, nil
		case "r8":
			return r.R8, nil
		case "r9":
			return r.R9, nil
		case "r10":
			return r.R10, nil
		case "r11":
			return r.R11, nil
		case "r12":
			return r.R12, nil
		case "r13":
			return r.R13, nil
		case "r14":
			return r.R14, nil
		case "r15":
			return r.R15, nil
		case "rflags":
			return r.Rflags, nil
		}
	}
	return 0, fmt.Errorf("util: unknown register %q for snapshot type %T", name, snap)
}

// GetRAX reads the return value register (RAX/EAX) out of snap, used by
// the syscall dispatcher to decode the NT service index a guest requested.
func GetRAX(snap interface{}) (uint64, error) {
	switch r := snap.(type) {
	case *core.Registers32:
		return r.Eax, nil
	case *core.Registers64:
		return r.Rax, nil
	default:
		return 0, fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}

// CurrentIP reads the instruction pointer (RIP/EIP) out of snap.
func CurrentIP(snap interface{}) (uint64, error) {
	switch r := snap.(type) {
	case *core.Registers32:
		return r.Eip, nil
	case *core.Registers64:
		return r.Rip, nil
	default:
		return 0, fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}

// SetRAX writes the return value register (RAX/EAX) into snap, used by the
// syscall dispatcher to publish an NTSTATUS after a handler runs.
func SetRAX(snap interface{}, value uint64) error {
	switch r := snap.(type) {
	case *core.Registers32:
		r.Eax = value
		return nil
	case *core.Registers64:
		r.Rax = value
		return nil
	default:
		return fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}

// AdvanceIP moves the instruction pointer forward by n bytes, used to step
// over a decoded `syscall` opcode once its handler has run.
func AdvanceIP(snap interface{}, n uint64) error {
	switch r := snap.(type) {
	case *core.Registers32:
		r.Eip += n
		return nil
	case *core.Registers64:
		r.Rip += n
		return nil
	default:
		return fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}

// SetIP overwrites the instruction pointer outright, used to redirect a
// thread into an SEH handler after a fault.
func SetIP(snap interface{}, addr uint64) error {
	switch r := snap.(type) {
	case *core.Registers32:
		r.Eip = addr
		return nil
	case *core.Registers64:
		r.Rip = addr
		return nil
	default:
		return fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}
