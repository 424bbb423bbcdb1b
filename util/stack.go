package util

import (
	"encoding/binary"
	"fmt"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
)

// PushStack decrements the stack pointer by the guest pointer width and
// writes val at the new top of stack, mirroring what a `push` instruction
// does. It reads and writes the pointer through snap in place, so the
// caller still owns writing snap back with engine.WriteRegisters.
func PushStack(mem *memory.Manager, ptrSize uint64, snap interface{}, val uint64) error {
	sp, err := adjustSP(snap, -int64(ptrSize))
	if err != nil {
		return err
	}
	return PutPointer(mem, ptrSize, sp, val, memory.Privileged)
}

// PopStack reads the value at the top of stack and increments the stack
// pointer by the guest pointer width.
func PopStack(mem *memory.Manager, ptrSize uint64, snap interface{}) (uint64, error) {
	sp, err := currentSP(snap)
	if err != nil {
		return 0, err
	}
	val, err := GetPointer(mem, ptrSize, sp, memory.Privileged)
	if err != nil {
		return 0, err
	}
	_, err = adjustSP(snap, int64(ptrSize))
	return val, err
}

func currentSP(snap interface{}) (uint64, error) {
	switch r := snap.(type) {
	case *core.Registers32:
		return r.Esp, nil
	case *core.Registers64:
		return r.Rsp, nil
	default:
		return 0, fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}

func adjustSP(snap interface{}, delta int64) (uint64, error) {
	switch r := snap.(type) {
	case *core.Registers32:
		r.Esp = uint64(int64(r.Esp) + delta)
		return r.Esp, nil
	case *core.Registers64:
		r.Rsp = uint64(int64(r.Rsp) + delta)
		return r.Rsp, nil
	default:
		return 0, fmt.Errorf("util: unsupported register snapshot type %T", snap)
	}
}

// StackArg reads the n-th pointer-sized slot at or above the stack
// pointer, i.e. at sp + n*ptrSize. Slot 0 is the return address after a
// call, and the caller counts any shadow space into n. syscallapi's
// decodeArgs computes its own stack offsets and does not use it.
func StackArg(mem *memory.Manager, ptrSize uint64, snap interface{}, n int) (uint64, error) {
	sp, err := currentSP(snap)
	if err != nil {
		return 0, err
	}
	return GetPointer(mem, ptrSize, sp+uint64(n)*ptrSize, memory.Privileged)
}

// PutUint64 and GetUint64 are thin wrappers kept for symmetry with the
// pointer helpers above where callers already have a raw byte slice
// rather than a guest address (e.g. filling a syscall output buffer).
func PutUint64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }
func GetUint64(buf []byte) uint64    { return binary.LittleEndian.Uint64(buf) }
