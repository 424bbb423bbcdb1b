package syscallapi

import (
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/util"
)

// ntCreateEvent creates an Event object and a handle to it.
//
// Args: [0] *EventHandle, [1] DesiredAccess, [2] ObjectAttributes,
// [3] EventType (0 = notification/manual-reset, 1 = synchronization),
// [4] InitialState
func ntCreateEvent(env *Env, call *Call) Result {
	evt := process.NewEvent(call.Args[3] == 0, call.Args[4] != 0)
	h := env.Proc.Handles.New(process.TagEvent, evt, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntSetEvent implements NtSetEvent.
//
// Args: [0] EventHandle, [1] *PreviousState (optional)
func ntSetEvent(env *Env, call *Call) Result {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil || tag != process.TagEvent {
		return Done(StatusInvalidHandle)
	}
	evt := obj.(*process.Event)
	prev := evt.SignalState()
	evt.Set()
	if call.Args[1] != 0 {
		var v uint64
		if prev {
			v = 1
		}
		_ = util.PutPointer(env.Proc.Mem, 4, call.Args[1], v, memory.Guest)
	}
	return Done(StatusSuccess)
}

// ntResetEvent implements NtResetEvent.
//
// Args: [0] EventHandle, [1] *PreviousState (optional)
func ntResetEvent(env *Env, call *Call) Result {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil || tag != process.TagEvent {
		return Done(StatusInvalidHandle)
	}
	obj.(*process.Event).Reset()
	return Done(StatusSuccess)
}

// ntPulseEvent implements NtPulseEvent: satisfies any current waiters,
// then drops back to unsignaled without going through a persistent
// signaled state.
//
// Args: [0] EventHandle, [1] *PreviousState (optional)
func ntPulseEvent(env *Env, call *Call) Result {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil || tag != process.TagEvent {
		return Done(StatusInvalidHandle)
	}
	evt := obj.(*process.Event)
	evt.Set()
	pollAllWaits(env.Proc)
	evt.Pulse()
	return Done(StatusSuccess)
}

// ntCreateMutant creates a Mutant object and a handle to it.
//
// Args: [0] *MutantHandle, [1] DesiredAccess, [2] ObjectAttributes,
// [3] InitialOwner
func ntCreateMutant(env *Env, call *Call) Result {
	tid := currentThreadID(env.Proc)
	mtx := process.NewMutant(call.Args[3] != 0, tid)
	h := env.Proc.Handles.New(process.TagMutant, mtx, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntReleaseMutant implements NtReleaseMutant.
//
// Args: [0] MutantHandle, [1] *PreviousCount (optional)
func ntReleaseMutant(env *Env, call *Call) Result {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil || tag != process.TagMutant {
		return Done(StatusInvalidHandle)
	}
	if !obj.(*process.Mutant).Release(currentThreadID(env.Proc)) {
		return Done(StatusMutantNotOwned)
	}
	pollAllWaits(env.Proc)
	return Done(StatusSuccess)
}

// ntCreateSemaphore creates a Semaphore object and a handle to it.
//
// Args: [0] *SemaphoreHandle, [1] DesiredAccess, [2] ObjectAttributes,
// [3] InitialCount, [4] MaximumCount
func ntCreateSemaphore(env *Env, call *Call) Result {
	sem := process.NewSemaphore(int32(call.Args[3]), int32(call.Args[4]))
	h := env.Proc.Handles.New(process.TagSemaphore, sem, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntReleaseSemaphore implements NtReleaseSemaphore.
//
// Args: [0] SemaphoreHandle, [1] ReleaseCount, [2] *PreviousCount (optional)
func ntReleaseSemaphore(env *Env, call *Call) Result {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil || tag != process.TagSemaphore {
		return Done(StatusInvalidHandle)
	}
	prev, ok := obj.(*process.Semaphore).Release(int32(call.Args[1]))
	if !ok {
		return Done(StatusSemaphoreLimitExceeded)
	}
	if call.Args[2] != 0 {
		_ = util.PutPointer(env.Proc.Mem, 4, call.Args[2], uint64(prev), memory.Guest)
	}
	pollAllWaits(env.Proc)
	return Done(StatusSuccess)
}

// ntWaitForSingleObject implements NtWaitForSingleObject: an immediate
// STATUS_SUCCESS if the object is already signaled, otherwise the calling
// thread is parked with a deadline decoded from the LARGE_INTEGER timeout
// the same way real NT does (negative = relative 100ns ticks from now,
// non-negative = absolute; a null pointer means infinite).
//
// Args: [0] Handle, [1] Alertable, [2] *Timeout
func ntWaitForSingleObject(env *Env, call *Call) Result {
	obj, _, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil {
		return Done(StatusInvalidHandle)
	}
	if obj.Wait(process.WaitAny) {
		acquireIfMutant(obj, currentThreadID(env.Proc))
		return Done(StatusWait0)
	}

	t := env.Proc.Scheduler.Current()
	if t == nil {
		return Done(StatusUnsuccessful)
	}
	deadline, infinite, err := decodeTimeout(env, call.Args[2])
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if !infinite && deadline <= env.Proc.Clocks.SystemTime100ns() {
		return Done(StatusTimeout)
	}
	t.State = process.StateWaiting
	t.Wait = &process.WaitBlock{
		Objects:   []process.Object{obj},
		Mode:      process.WaitAny,
		Deadline:  deadline,
		Infinite:  infinite,
		Satisfied: make([]bool, 1),
	}
	return Blocked()
}

// ntWaitForMultipleObjects implements NtWaitForMultipleObjects.
//
// Args: [0] Count, [1] *Handles, [2] WaitType (0 = WaitAll, 1 = WaitAny),
// [3] Alertable, [4] *Timeout
func ntWaitForMultipleObjects(env *Env, call *Call) Result {
	count := call.Args[0]
	ptrSize := env.Engine.PtrSize()
	objs := make([]process.Object, 0, count)
	for i := uint64(0); i < count; i++ {
		hv, err := util.GetPointer(env.Proc.Mem, ptrSize, call.Args[1]+i*ptrSize, memory.Guest)
		if err != nil {
			return Done(StatusAccessViolation)
		}
		obj, _, err := env.Proc.Handles.Lookup(uint32(hv))
		if err != nil {
			return Done(StatusInvalidHandle)
		}
		objs = append(objs, obj)
	}

	mode := process.WaitAll
	if call.Args[2] != 0 {
		mode = process.WaitAny
	}

	satisfied := make([]bool, len(objs))
	done := 0
	for i, obj := range objs {
		if obj.Wait(mode) {
			satisfied[i] = true
			done++
		}
	}
	allDone := (mode == process.WaitAll && done == len(objs)) || (mode == process.WaitAny && done > 0)
	if allDone {
		tid := currentThreadID(env.Proc)
		for i, obj := range objs {
			if satisfied[i] {
				acquireIfMutant(obj, tid)
			}
		}
		return Done(StatusWait0)
	}

	t := env.Proc.Scheduler.Current()
	if t == nil {
		return Done(StatusUnsuccessful)
	}
	deadline, infinite, err := decodeTimeout(env, call.Args[4])
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if !infinite && deadline <= env.Proc.Clocks.SystemTime100ns() {
		return Done(StatusTimeout)
	}
	t.State = process.StateWaiting
	t.Wait = &process.WaitBlock{Objects: objs, Mode: mode, Deadline: deadline, Infinite: infinite, Satisfied: satisfied}
	return Blocked()
}

// acquireIfMutant claims ownership on behalf of tid when obj is a mutant;
// Mutant.Wait only reports availability, it doesn't record the new owner.
func acquireIfMutant(obj process.Object, tid uint32) {
	if m, ok := obj.(*process.Mutant); ok {
		m.Acquire(tid)
	}
}

// decodeTimeout reads a LARGE_INTEGER *Timeout the way real NT does:
// negative is relative 100ns ticks from now, non-negative is an absolute
// deadline, and a null pointer means wait forever. It reports the two
// separately (deadline, infinite) rather than folding "no pointer" into
// Deadline == 0, because a guest can legitimately pass an already-expired
// absolute or relative timeout (decoding to a due or past deadline), which
// a caller must be able to tell apart from "never times out".
func decodeTimeout(env *Env, ptr uint64) (deadline int64, infinite bool, err error) {
	if ptr == 0 {
		return 0, true, nil
	}
	raw, err := util.GetPointer(env.Proc.Mem, 8, ptr, memory.Guest)
	if err != nil {
		return 0, false, err
	}
	signed := int64(raw)
	if signed < 0 {
		return env.Proc.Clocks.SystemTime100ns() - signed, false, nil
	}
	return signed, false, nil
}

// pollAllWaits re-checks every waiting thread's WaitBlock immediately
// after a signal, so a waiter doesn't have to wait for its next scheduler
// turn to notice. Cheap: the scheduler already does this per-thread work
// on every Next() call, this just runs it eagerly for responsiveness.
func pollAllWaits(proc *process.Context) {
	for _, t := range proc.Threads {
		if t.State != process.StateWaiting || t.Wait == nil {
			continue
		}
		if len(t.Wait.Objects) == 0 {
			continue // pure timed wait, only the scheduler's deadline fast-forward resolves this
		}
		satisfied := 0
		for i, obj := range t.Wait.Objects {
			if obj.Wait(t.Wait.Mode) {
				t.Wait.Satisfied[i] = true
			}
			if t.Wait.Satisfied[i] {
				satisfied++
			}
		}
		done := false
		switch t.Wait.Mode {
		case process.WaitAny:
			done = satisfied > 0
		case process.WaitAll:
			done = satisfied == len(t.Wait.Objects)
		}
		if done {
			for i, obj := range t.Wait.Objects {
				if t.Wait.Satisfied[i] {
					acquireIfMutant(obj, t.ID)
				}
			}
			t.LastStatus = StatusSuccess
			t.State = process.StateReady
			t.Wait = nil
			t.WokeFromWait = true
		}
	}
}
