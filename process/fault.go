package process

import (
	"encoding/binary"
	"fmt"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/util"
)

// Fault-code constants, the NTSTATUS-style exception codes a raised
// EXCEPTION_RECORD carries in its ExceptionCode field.
const (
	StatusAccessViolation       uint32 = 0xC0000005
	StatusIllegalInstruction    uint32 = 0xC000001D
	StatusPrivilegedInstruction uint32 = 0xC0000096
)

// endOfChain is the sentinel NT_TIB.ExceptionList value marking an empty
// SEH chain, matching real Windows' -1 terminator.
const endOfChain = ^uint64(0)

// Fault describes a guest-raised exception: an access violation, an
// invalid opcode, or a privileged instruction trap caught by the CPU
// engine's hooks before it ever reaches guest code as a real interrupt.
type Fault struct {
	Code    uint32
	Address uint64
	Info    []uint64
}

// exceptionRegistration mirrors one classic FS:[0]/GS:[0] SEH chain node.
// This repo reuses the 32-bit linked-list convention for 64-bit guests
// too rather than modeling table-based SEH64 unwind data, since nothing
// here needs to interoperate with a real Windows unwinder — only to give
// guest code that installs its own handler a plausible place to catch a
// fault.
type exceptionRegistration struct {
	Next    uint64
	Handler uint64
}

// InitTEB writes an empty SEH chain into t's Thread Environment Block, so
// a fault raised before guest code installs its own handler finds no
// handler rather than reading whatever garbage happened to be at that
// address.
func (c *Context) InitTEB(t *Thread) error {
	return util.PutPointer(c.Mem, 8, t.TEBAddress, endOfChain, memory.Privileged)
}

// RaiseException dispatches fault into t's SEH chain. If a handler frame
// is registered, it is popped — single-pass dispatch; this repo does not
// model unwind continuation back through outer frames — and snap is
// redirected to run the handler with the fabricated EXCEPTION_RECORD's
// address, the establisher frame, and the faulting context record address
// passed in RCX, RDX and R8 for a 64-bit guest, or in ECX, EDX and EBX
// for a 32-bit one. If the chain is empty,
// RaiseException reports handled=false so the caller can terminate the
// process using fault.Code as its exit code.
func (c *Context) RaiseException(t *Thread, snap interface{}, fault Fault) (handled bool, err error) {
	chain, err := util.GetPointer(c.Mem, 8, t.TEBAddress, memory.Privileged)
	if err != nil {
		return false, fmt.Errorf("process: reading SEH chain: %w", err)
	}
	if chain == 0 || chain == endOfChain {
		return false, nil
	}

	buf, err := c.Mem.Read(chain, 16, memory.Privileged)
	if err != nil {
		return false, fmt.Errorf("process: reading exception registration at 0x%x: %w", chain, err)
	}
	frame := exceptionRegistration{
		Next:    binary.LittleEndian.Uint64(buf[0:8]),
		Handler: binary.LittleEndian.Uint64(buf[8:16]),
	}

	if err := util.PutPointer(c.Mem, 8, t.TEBAddress, frame.Next, memory.Privileged); err != nil {
		return false, fmt.Errorf("process: unlinking exception frame: %w", err)
	}

	const recordSize = 0x30
	recordAddr, err := c.Mem.AllocMeta(recordSize)
	if err != nil {
		return false, fmt.Errorf("process: allocating exception record: %w", err)
	}
	record := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(record[0x00:], fault.Code)
	binary.LittleEndian.PutUint64(record[0x10:], fault.Address)
	binary.LittleEndian.PutUint32(record[0x18:], uint32(len(fault.Info)))
	for i, v := range fault.Info {
		off := 0x20 + 8*i
		if off+8 > len(record) {
			break
		}
		binary.LittleEndian.PutUint64(record[off:], v)
	}
	if err := c.Mem.Write(recordAddr, record, memory.Privileged); err != nil {
		return false, fmt.Errorf("process: writing exception record: %w", err)
	}

	if err := util.SetIP(snap, frame.Handler); err != nil {
		return false, err
	}
	if err := setDispatchArgs(snap, recordAddr, chain, fault.Address); err != nil {
		return false, err
	}
	return true, nil
}

func setDispatchArgs(snap interface{}, exceptionRecord, establisherFrame, contextRecord uint64) error {
	switch r := snap.(type) {
	case *core.Registers32:
		r.Ecx, r.Edx, r.Ebx = exceptionRecord, establisherFrame, contextRecord
	case *core.Registers64:
		r.Rcx, r.Rdx, r.R8 = exceptionRecord, establisherFrame, contextRecord
	default:
		return fmt.Errorf("process: unsupported register snapshot type %T", snap)
	}
	return nil
}
