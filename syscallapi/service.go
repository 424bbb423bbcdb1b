package syscallapi

import (
	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/process"
)

// Call is one decoded syscall entry: which service, with which arguments
// already pulled out of registers and the stack per the Windows x86-64
// calling convention.
type Call struct {
	ServiceID uint32
	Name      string
	Args      []uint64

	// Values is filled in by a handler that wants StringHook to render a
	// "v:" or "s:" sigil argument. ParseValues does not fill those slots,
	// so without a handler-supplied value they render as nil.
	Values []interface{}
}

// Result is what a Handler hands back to the dispatcher: either a final
// NTSTATUS to publish into RAX, or a request to park the calling thread in
// a wait and defer the status until the wait resolves.
type Result struct {
	Status  uint32
	Blocked bool
}

// Done completes the syscall immediately with status.
func Done(status uint32) Result { return Result{Status: status} }

// Blocked parks the calling thread; the handler is responsible for having
// already set its State/Wait on the current thread before returning this.
func Blocked() Result { return Result{Blocked: true} }

// Env bundles the two things a handler needs beyond the decoded Call: the
// process context (memory, modules, handles, threads, scheduler, clocks)
// and the CPU engine, which handlers use for the guest pointer width, for
// reading and writing live registers, and to force a stop.
type Env struct {
	Proc   *process.Context
	Engine core.Engine
}

// Handler implements one NT service. It must not block the host: a
// handler that needs to wait sets up a process.WaitBlock on the current
// thread and returns Blocked() instead of calling anything synchronous.
type Handler func(env *Env, call *Call) Result

// ServiceEntry describes one entry in a ServiceTable: its name (for
// tracing), its handler, how many arguments to decode, and the sigil-typed
// parameter names ("w:lpFileName", "d:dwFlags", ...) StringHook uses to
// render a verbose trace line.
type ServiceEntry struct {
	Name       string
	Handler    Handler
	Arity      int
	Parameters []string
}

// ServiceTable maps an NT service index to its entry.
type ServiceTable map[uint32]ServiceEntry

// Continuation tells the dispatcher what to do about a syscall whose
// service index has no ServiceTable entry.
type Continuation struct {
	action continuationAction
	status uint32
}

type continuationAction int

const (
	actionContinue continuationAction = iota
	actionSkip
	actionAbort
)

// Continue treats the unknown syscall as a harmless no-op returning
// STATUS_SUCCESS.
func Continue() Continuation { return Continuation{action: actionContinue} }

// Skip completes the unknown syscall with an explicit status instead.
func Skip(status uint32) Continuation { return Continuation{action: actionSkip, status: status} }

// Abort stops the run entirely.
func Abort() Continuation { return Continuation{action: actionAbort} }

// UnknownFunc is invoked for a service index absent from the Dispatcher's
// table, or for a stub trampoline that was resolved at load time but never
// registered with a real handler.
type UnknownFunc func(serviceID uint32, address uint64, module, name string) Continuation

// Logger is the narrow leveled-logging capability the dispatcher needs for
// verbose-call tracing, satisfied by internal/logging's wrapper without an
// import dependency on it.
type Logger interface {
	Debug(msg string, args ...any)
}
