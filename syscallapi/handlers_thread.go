package syscallapi

import (
	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/util"
)

// ntCreateThreadEx implements NtCreateThreadEx: allocate a stack, seed the
// entry point and argument, enqueue the new thread with the scheduler, and
// hand back a waitable handle to it.
//
// Args: [0] *ThreadHandle, [1] DesiredAccess, [2] ObjectAttributes,
// [3] ProcessHandle, [4] StartRoutine, [5] Argument, [6] CreateFlags,
// [7] ZeroBits, [8] StackSize, [9] MaximumStackSize, [10] AttributeList
func ntCreateThreadEx(env *Env, call *Call) Result {
	t, err := env.Proc.CreateThread(env.Engine, call.Args[4], call.Args[5], call.Args[8])
	if err != nil {
		return Done(StatusNoMemory)
	}

	h := env.Proc.Handles.New(process.TagThread, &process.ThreadObject{Thread: t}, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}

	const createSuspended = 0x00000001
	if call.Args[6]&createSuspended != 0 {
		t.Suspend()
	}
	return Done(StatusSuccess)
}

// ntTerminateThread implements NtTerminateThread. A handle value of 0
// (the pseudo-handle GetCurrentThread returns) targets the calling
// thread, matching real NT's -2 pseudo-handle convention collapsed to a
// single sentinel since this repo never hands out a distinct pseudo-handle
// value.
//
// Args: [0] ThreadHandle, [1] ExitStatus
func ntTerminateThread(env *Env, call *Call) Result {
	tid, ok := resolveThreadID(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	env.Proc.TerminateThread(tid, uint32(call.Args[1]))
	return Done(StatusSuccess)
}

// ntSuspendThread implements NtSuspendThread, returning the thread's prior
// suspend count.
//
// Args: [0] ThreadHandle, [1] *PreviousSuspendCount (optional)
func ntSuspendThread(env *Env, call *Call) Result {
	t, ok := resolveThread(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	prev := t.SuspendCount
	t.Suspend()
	if call.Args[1] != 0 {
		_ = util.PutPointer(env.Proc.Mem, 4, call.Args[1], uint64(prev), memory.Guest)
	}
	return Done(StatusSuccess)
}

// ntResumeThread implements NtResumeThread, returning the thread's prior
// suspend count.
//
// Args: [0] ThreadHandle, [1] *PreviousSuspendCount (optional)
func ntResumeThread(env *Env, call *Call) Result {
	t, ok := resolveThread(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	prev := t.SuspendCount
	t.Resume()
	if call.Args[1] != 0 {
		_ = util.PutPointer(env.Proc.Mem, 4, call.Args[1], uint64(prev), memory.Guest)
	}
	return Done(StatusSuccess)
}

// ntGetContextThread implements NtGetContextThread. For the current thread
// it reads the live engine registers; for any other thread it returns that
// thread's saved register snapshot. The record is the flat layout described
// at contextRecordSize; CONTEXT flags are not honored, so every register is
// always copied.
//
// Args: [0] ThreadHandle, [1] *Context (a CONTEXT structure)
func ntGetContextThread(env *Env, call *Call) Result {
	t, ok := resolveThread(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	snap := t.Regs()
	if t == env.Proc.Scheduler.Current() {
		snap = env.Engine.ReadRegisters()
	}
	if snap == nil {
		return Done(StatusUnsuccessful)
	}
	if err := writeContextRecord(env, call.Args[1], snap); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntSetContextThread implements NtSetContextThread, the write-back half of
// ntGetContextThread's simplified CONTEXT model.
//
// Args: [0] ThreadHandle, [1] *Context
func ntSetContextThread(env *Env, call *Call) Result {
	t, ok := resolveThread(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	snap, err := readContextRecord(env, call.Args[1])
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if t == env.Proc.Scheduler.Current() {
		if err := env.Engine.WriteRegisters(snap); err != nil {
			return Done(StatusUnsuccessful)
		}
	} else {
		t.SetContext(snap)
	}
	return Done(StatusSuccess)
}

func resolveThread(env *Env, handle uint64) (*process.Thread, bool) {
	if handle == 0 {
		if t := env.Proc.Scheduler.Current(); t != nil {
			return t, true
		}
		return nil, false
	}
	obj, tag, err := env.Proc.Handles.Lookup(uint32(handle))
	if err != nil || tag != process.TagThread {
		return nil, false
	}
	return obj.(*process.ThreadObject).Thread, true
}

func resolveThreadID(env *Env, handle uint64) (uint32, bool) {
	t, ok := resolveThread(env, handle)
	if !ok {
		return 0, false
	}
	return t.ID, true
}

// contextRecordSize is generous enough to hold every general-purpose
// register this repo tracks for either bitness, laid out as a flat array
// of 8-byte slots (for both bitnesses) rather than the real (and much
// larger, flag-gated) CONTEXT structure.
const contextRecordSize = 32 * 8

func writeContextRecord(env *Env, addr uint64, snap interface{}) error {
	buf := make([]byte, contextRecordSize)
	switch r := snap.(type) {
	case *core.Registers32:
		vals := []uint64{uint64(r.Eip), uint64(r.Esp), uint64(r.Eax), uint64(r.Ebx), uint64(r.Ecx), uint64(r.Edx), uint64(r.Esi), uint64(r.Edi), uint64(r.Ebp), uint64(r.Eflags)}
		for i, v := range vals {
			util.PutUint64(buf[i*8:], v)
		}
	case *core.Registers64:
		vals := []uint64{r.Rip, r.Rsp, r.Rax, r.Rbx, r.Rcx, r.Rdx, r.Rsi, r.Rdi, r.Rbp, r.R8, r.R9, r.R10, r.R11, r.R12, r.R13, r.R14, r.R15, r.Rflags}
		for i, v := range vals {
			util.PutUint64(buf[i*8:], v)
		}
	}
	return env.Proc.Mem.Write(addr, buf, memory.Guest)
}

func readContextRecord(env *Env, addr uint64) (interface{}, error) {
	buf, err := env.Proc.Mem.Read(addr, contextRecordSize, memory.Guest)
	if err != nil {
		return nil, err
	}
	get := func(i int) uint64 { return util.GetUint64(buf[i*8:]) }
	if env.Engine.Mode() == core.Mode32 {
		return &core.Registers32{
			Eip: get(0), Esp: get(1), Eax: get(2),
			Ebx: get(3), Ecx: get(4), Edx: get(5),
			Esi: get(6), Edi: get(7), Ebp: get(8),
			Eflags: get(9),
		}, nil
	}
	return &core.Registers64{
		Rip: get(0), Rsp: get(1), Rax: get(2), Rbx: get(3), Rcx: get(4),
		Rdx: get(5), Rsi: get(6), Rdi: get(7), Rbp: get(8), R8: get(9),
		R9: get(10), R10: get(11), R11: get(12), R12: get(13), R13: get(14),
		R14: get(15), R15: get(16), Rflags: get(17),
	}, nil
}
