package process

import "github.com/coldharbor/ntwine/core"

// State is a thread's scheduling state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateSuspended
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WaitBlock records what a waiting thread is blocked on: a set of objects,
// the wait mode (any/all), and a deadline. Infinite is set for a wait with
// no timeout at all (a null *Timeout pointer); it exists as a separate flag
// rather than a sentinel Deadline value because a guest can legitimately
// pass an already-expired timeout (Deadline == 0, or in the past), which
// must resolve to an immediate STATUS_TIMEOUT rather than block forever.
type WaitBlock struct {
	Objects   []Object
	Mode      WaitMode
	Deadline  int64 // NT 100ns ticks; meaningless when Infinite is true
	Infinite  bool
	Satisfied []bool
}

// Thread is one schedulable unit of execution inside a Context, carrying a
// register snapshot, TEB address, priority/affinity, and wait state.
type Thread struct {
	ID       uint32
	State    State
	Priority int32
	Affinity uint64

	TEBAddress   uint64
	StackBase    uint64
	StackLimit   uint64
	SuspendCount int32

	regs interface{} // core.Engine.ReadRegisters snapshot, valid when State != StateRunning

	Wait *WaitBlock

	// WokeFromWait is set by the scheduler the instant a wait resolves
	// (by signal or timeout) and cleared by whatever applies the
	// deferred completion status (a syscall dispatcher) into Regs()
	// before this thread runs again. It is the "scheduler sentinel"
	// that lets a wait complete without the host ever blocking.
	WokeFromWait bool

	LastStatus uint32
	ExitCode   uint32

	apcQueue      []APC
	apcInProgress bool
}

// APC is a queued asynchronous procedure call: a guest routine address and
// its parameter, delivered the next time the thread enters an alertable
// wait.
type APC struct {
	Routine uint64
	Arg     uint64
}

// NewThread creates a ready-to-run thread with the given entry context.
// The caller (Context.CreateThread) is responsible for setting up the
// initial register snapshot via SaveContext once the stack and entry point
// are written into guest memory.
func NewThread(id uint32, stackBase, stackLimit, tebAddress uint64) *Thread {
	return &Thread{
		ID:         id,
		State:      StateReady,
		Priority:   0,
		StackBase:  stackBase,
		StackLimit: stackLimit,
		TEBAddress: tebAddress,
	}
}

// SaveContext captures the engine's current register state into the
// thread, called by the scheduler when switching this thread out.
func (t *Thread) SaveContext(engine core.Engine) error {
	t.regs = engine.ReadRegisters()
	return nil
}

// RestoreContext writes the thread's saved register state back into the
// engine, called by the scheduler when switching this thread in.
func (t *Thread) RestoreContext(engine core.Engine) error {
	if t.regs == nil {
		return nil
	}
	return engine.WriteRegisters(t.regs)
}

// Regs exposes the thread's raw register snapshot (a *core.Registers32 or
// *core.Registers64) so a syscall dispatcher can patch a deferred
// completion status into a thread that isn't currently running the
// engine — see WokeFromWait.
func (t *Thread) Regs() interface{} { return t.regs }

// SetContext overwrites the thread's saved register snapshot outright, for
// NtSetContextThread against a thread that isn't the one currently
// running the engine.
func (t *Thread) SetContext(snap interface{}) { t.regs = snap }

// SetInitialRegisters seeds the thread's register snapshot directly
// (before it has ever run), for CreateThread's entry-point/stack/argument
// setup. mode selects the Registers32 or Registers64 shape, matching
// engine.Mode().
func (t *Thread) SetInitialRegisters(mode int, entry, sp, arg uint64) {
	if mode == core.Mode32 {
		t.regs = &core.Registers32{Eip: entry, Esp: sp, Ecx: arg}
		return
	}
	t.regs = &core.Registers64{Rip: entry, Rsp: sp, Rcx: arg}
}

// QueueAPC appends an APC for delivery on the next alertable wait or
// thread-start.
func (t *Thread) QueueAPC(routine, arg uint64) {
	t.apcQueue = append(t.apcQueue, APC{Routine: routine, Arg: arg})
}

// NextAPC pops the next pending APC, if any.
func (t *Thread) NextAPC() (APC, bool) {
	if len(t.apcQueue) == 0 {
		return APC{}, false
	}
	apc := t.apcQueue[0]
	t.apcQueue = t.apcQueue[1:]
	return apc, true
}

// Suspend increments the suspend count; a thread with SuspendCount > 0 is
// never selected to run regardless of its State.
func (t *Thread) Suspend() int32 {
	t.SuspendCount++
	return t.SuspendCount
}

// Resume decrements the suspend count, floored at zero.
func (t *Thread) Resume() int32 {
	if t.SuspendCount > 0 {
		t.SuspendCount--
	}
	return t.SuspendCount
}

// Runnable reports whether the thread can be scheduled right now.
func (t *Thread) Runnable() bool {
	return t.SuspendCount == 0 && (t.State == StateReady || t.State == StateRunning)
}
