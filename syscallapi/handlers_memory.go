package syscallapi

import (
	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/util"
)

// Win32 MEM_* allocation type and PAGE_* protection bits, decoded from a
// guest-supplied flags word into this repo's own core.Protection.
const (
	memCommit   = 0x1000
	memReserve  = 0x2000
	memDecommit = 0x4000
	memRelease  = 0x8000

	pageNoAccess         = 0x01
	pageReadOnly         = 0x02
	pageReadWrite        = 0x04
	pageWriteCopy        = 0x08
	pageExecute          = 0x10
	pageExecuteRead      = 0x20
	pageExecuteReadWrite = 0x40
	pageExecuteWriteCopy = 0x80
)

func winProtectionToProt(winProtect uint64) core.Protection {
	switch winProtect &^ 0x100 { // strip PAGE_GUARD
	case pageReadOnly, pageWriteCopy:
		return core.ProtRead
	case pageReadWrite:
		return core.ProtRead | core.ProtWrite
	case pageExecute:
		return core.ProtExec
	case pageExecuteRead:
		return core.ProtRead | core.ProtExec
	case pageExecuteReadWrite, pageExecuteWriteCopy:
		return core.ProtRead | core.ProtWrite | core.ProtExec
	case pageNoAccess:
		return core.ProtNone
	default:
		return core.ProtRead | core.ProtWrite
	}
}

func protToWinProtection(prot core.Protection) uint64 {
	switch {
	case prot&core.ProtExec != 0 && prot&core.ProtWrite != 0:
		return pageExecuteReadWrite
	case prot&core.ProtExec != 0 && prot&core.ProtRead != 0:
		return pageExecuteRead
	case prot&core.ProtExec != 0:
		return pageExecute
	case prot&core.ProtWrite != 0:
		return pageReadWrite
	case prot&core.ProtRead != 0:
		return pageReadOnly
	default:
		return pageNoAccess
	}
}

// ntAllocateVirtualMemory implements NtAllocateVirtualMemory: reserve
// and/or commit a region, honoring a base-address hint, and write the
// actual base/size back through the guest's out-pointers.
//
// Args: [0] ProcessHandle, [1] *BaseAddress, [2] ZeroBits,
// [3] *RegionSize, [4] AllocationType, [5] Protect
func ntAllocateVirtualMemory(env *Env, call *Call) Result {
	mem := env.Proc.Mem
	ptrSize := env.Engine.PtrSize()

	hint, err := util.GetPointer(mem, ptrSize, call.Args[1], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	size, err := util.GetPointer(mem, ptrSize, call.Args[3], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if size == 0 {
		return Done(StatusInvalidParameter)
	}

	allocType := call.Args[4]
	prot := winProtectionToProt(call.Args[5])

	base := hint
	if allocType&memReserve != 0 || (allocType&memCommit != 0 && hint == 0) {
		base, err = mem.Reserve(hint, size, prot, memory.TagPrivate)
		if err != nil {
			return Done(StatusConflictingAddresses)
		}
	}
	if allocType&memCommit != 0 {
		if err := mem.Commit(base, size, prot); err != nil {
			return Done(StatusAlreadyCommitted)
		}
	}

	if err := util.PutPointer(mem, ptrSize, call.Args[1], base, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	if err := util.PutPointer(mem, ptrSize, call.Args[3], size, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntFreeVirtualMemory implements NtFreeVirtualMemory (MEM_DECOMMIT or
// MEM_RELEASE).
//
// Args: [0] ProcessHandle, [1] *BaseAddress, [2] *RegionSize, [3] FreeType
func ntFreeVirtualMemory(env *Env, call *Call) Result {
	mem := env.Proc.Mem
	ptrSize := env.Engine.PtrSize()

	base, err := util.GetPointer(mem, ptrSize, call.Args[1], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	size, err := util.GetPointer(mem, ptrSize, call.Args[2], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}

	freeType := call.Args[3]
	if freeType&memRelease != 0 {
		if err := mem.Release(base, size); err != nil {
			return Done(StatusInvalidParameter)
		}
		return Done(StatusSuccess)
	}
	if err := mem.Decommit(base, size); err != nil {
		return Done(StatusInvalidParameter)
	}
	return Done(StatusSuccess)
}

// ntProtectVirtualMemory implements NtProtectVirtualMemory, returning the
// previous protection of the first page the way Manager.Protect already
// does.
//
// Args: [0] ProcessHandle, [1] *BaseAddress, [2] *RegionSize,
// [3] NewProtect, [4] *OldProtect
func ntProtectVirtualMemory(env *Env, call *Call) Result {
	mem := env.Proc.Mem
	ptrSize := env.Engine.PtrSize()

	base, err := util.GetPointer(mem, ptrSize, call.Args[1], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	size, err := util.GetPointer(mem, ptrSize, call.Args[2], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}

	prev, err := mem.Protect(base, size, winProtectionToProt(call.Args[3]))
	if err != nil {
		return Done(StatusInvalidParameter)
	}
	if err := util.PutPointer(mem, 4, call.Args[4], protToWinProtection(prev), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntQueryVirtualMemory implements the MemoryBasicInformation query class,
// the only information class this repo supports.
//
// Args: [0] ProcessHandle, [1] BaseAddress, [2] InformationClass,
// [3] *MemoryInformation, [4] MemoryInformationLength, [5] *ReturnLength
func ntQueryVirtualMemory(env *Env, call *Call) Result {
	mem := env.Proc.Mem
	ptrSize := env.Engine.PtrSize()

	info, err := mem.Query(call.Args[1])
	if err != nil {
		return Done(StatusInvalidParameter)
	}

	buf := make([]byte, 6*ptrSize)
	util.PutUint64(buf[0:], info.BaseAddress)
	util.PutUint64(buf[ptrSize:], info.AllocationBase)
	util.PutUint64(buf[2*ptrSize:], protToWinProtection(info.AllocationProtect))
	util.PutUint64(buf[3*ptrSize:], info.RegionSize)
	util.PutUint64(buf[4*ptrSize:], uint64(stateToWinState(info.State)))
	util.PutUint64(buf[5*ptrSize:], protToWinProtection(info.Protect))
	if uint64(len(buf)) > call.Args[4] {
		buf = buf[:call.Args[4]]
	}
	if err := mem.Write(call.Args[3], buf, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	if call.Args[5] != 0 {
		_ = util.PutPointer(mem, ptrSize, call.Args[5], uint64(len(buf)), memory.Guest)
	}
	return Done(StatusSuccess)
}

func stateToWinState(s memory.State) uint32 {
	switch s {
	case memory.StateCommitted:
		return 0x1000
	case memory.StateReserved:
		return 0x2000
	default:
		return 0x10000 // MEM_FREE
	}
}

// ntReadVirtualMemory copies size bytes of another region of this same
// process's guest memory (cross-process reads aren't modeled; ProcessHandle
// is ignored beyond validity) into a caller buffer.
//
// Args: [0] ProcessHandle, [1] BaseAddress, [2] *Buffer, [3] Size,
// [4] *NumberOfBytesRead
func ntReadVirtualMemory(env *Env, call *Call) Result {
	mem := env.Proc.Mem
	data, err := mem.Read(call.Args[1], call.Args[3], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if err := mem.Write(call.Args[2], data, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	if call.Args[4] != 0 {
		_ = util.PutPointer(mem, env.Engine.PtrSize(), call.Args[4], uint64(len(data)), memory.Guest)
	}
	return Done(StatusSuccess)
}

// ntWriteVirtualMemory is ntReadVirtualMemory's mirror image.
//
// Args: [0] ProcessHandle, [1] BaseAddress, [2] *Buffer, [3] Size,
// [4] *NumberOfBytesWritten
func ntWriteVirtualMemory(env *Env, call *Call) Result {
	mem := env.Proc.Mem
	data, err := mem.Read(call.Args[2], call.Args[3], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if err := mem.Write(call.Args[1], data, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	if call.Args[4] != 0 {
		_ = util.PutPointer(mem, env.Engine.PtrSize(), call.Args[4], uint64(len(data)), memory.Guest)
	}
	return Done(StatusSuccess)
}
