package syscallapi

import (
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/util"
)

// ntTerminateProcess implements NtTerminateProcess for the pseudo-handle
// (0) case, the only one this repo's single-process model needs: it stops
// the engine outright rather than modeling process-exit propagation to
// other handles.
//
// Args: [0] ProcessHandle, [1] ExitStatus
func ntTerminateProcess(env *Env, call *Call) Result {
	env.Engine.Stop()
	return Done(StatusSuccess)
}

// ntQueryInformationProcess implements the ProcessBasicInformation
// information class, the only one guest code realistically probes for
// PEB address discovery.
//
// Args: [0] ProcessHandle, [1] InformationClass, [2] *ProcessInformation,
// [3] InformationLength, [4] *ReturnLength
func ntQueryInformationProcess(env *Env, call *Call) Result {
	const processBasicInformation = 0
	if call.Args[1] != processBasicInformation {
		return Done(StatusNotImplemented)
	}
	ptrSize := env.Engine.PtrSize()
	buf := make([]byte, 6*ptrSize)
	if env.Proc.PEB != nil {
		util.PutUint64(buf[ptrSize:], env.Proc.PEB.Address)
	}
	if uint64(len(buf)) > call.Args[3] {
		buf = buf[:call.Args[3]]
	}
	if err := env.Proc.Mem.Write(call.Args[2], buf, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	if call.Args[4] != 0 {
		_ = util.PutPointer(env.Proc.Mem, ptrSize, call.Args[4], uint64(len(buf)), memory.Guest)
	}
	return Done(StatusSuccess)
}

// ntDelayExecution implements NtDelayExecution (Sleep's kernel entry
// point): a relative or absolute wait against no object at all, so it's
// modeled directly as a timed wait block with zero objects rather than
// reusing ntWaitForSingleObject's object-lookup path.
//
// Args: [0] Alertable, [1] *DelayInterval
func ntDelayExecution(env *Env, call *Call) Result {
	deadline, infinite, err := decodeTimeout(env, call.Args[1])
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if !infinite && deadline <= env.Proc.Clocks.SystemTime100ns() {
		return Done(StatusSuccess)
	}
	t := env.Proc.Scheduler.Current()
	if t == nil {
		return Done(StatusUnsuccessful)
	}
	t.State = process.StateWaiting
	t.Wait = &process.WaitBlock{Mode: process.WaitAll, Deadline: deadline, Infinite: infinite}
	return Blocked()
}
