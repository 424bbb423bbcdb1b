// Package emulator owns the run loop: it wires the CPU engine's hooks
// around an already constructed process.Context, multiplexes the
// scheduler between quantum boundaries, applies the silent_until_main
// logging gate, and turns whatever stops the run into either a guest
// exit code or a typed Error.
package emulator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/arch/x86/x86asm"

	"github.com/coldharbor/ntwine/config"
	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/internal/logging"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/syscallapi"
	"github.com/coldharbor/ntwine/util"
)

// Error is a typed emulation-level failure surfaced to Start's caller:
// something the run loop itself could not recover from, as distinct from
// a guest fault, which is either caught by the guest's own SEH chain or
// ends the run with an exit code rather than a Go error.
type Error struct {
	Kind   string
	RIP    uint64
	Module string
	Msg    string
}

func (e *Error) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("emulator: %s at 0x%x (%s): %s", e.Kind, e.RIP, e.Module, e.Msg)
	}
	return fmt.Sprintf("emulator: %s: %s", e.Kind, e.Msg)
}

// gatedLogger drops every record while *silenced is true, giving
// silent_until_main a single place to take effect regardless of which
// package (this one or syscallapi) is about to log.
type gatedLogger struct {
	inner    *logging.Logger
	silenced *bool
}

func (g *gatedLogger) Debug(msg string, args ...any) {
	if *g.silenced {
		return
	}
	g.inner.Debug(msg, args...)
}

// Emulator is one running instance: exactly the "instance-scoped, no
// process-wide singleton" shape this system requires, since more than one
// Emulator can exist in the same host process without interfering.
type Emulator struct {
	Engine     core.Engine
	Proc       *process.Context
	Dispatcher *syscallapi.Dispatcher
	Disasm     *syscallapi.VerboseDisassembler
	Logger     *logging.Logger
	Options    config.Options

	// OnSyscall, when set, replaces the default unhandled-syscall policy
	// (log and continue) for any service index the dispatcher has no
	// registered handler for.
	OnSyscall syscallapi.UnknownFunc
	// OnStdout, when set, is called with every byte range the guest writes
	// to its console output handle.
	OnStdout func([]byte)

	entryPoint uint64
	quantum    uint64

	ticks    uint64
	silenced bool

	lastHostTime time.Time

	ctx      context.Context
	deadline time.Time
	maxTicks uint64

	exitCode uint32
	stopErr  *Error
}

// New builds an Emulator around an already constructed world (memory,
// modules, threads) and wires the dispatcher's interrupt hook, the
// per-instruction scheduling/logging hook, and the memory-violation fault
// path. entryPoint gates silent_until_main: logging stays suppressed
// until RIP first reaches it.
//
// onSyscall overrides the dispatcher's policy for a service index with no
// registered handler; a nil onSyscall keeps the default of logging the miss
// and continuing. onStdout, if non-nil, receives every byte range the guest
// writes to its console output handle, letting an embedder observe program
// output (e.g. the classic "hello world" scenario) without needing its own
// VFS-level hook.
func New(opts config.Options, engine core.Engine, proc *process.Context, dispatcher *syscallapi.Dispatcher, entryPoint uint64, logger *logging.Logger, onSyscall syscallapi.UnknownFunc, onStdout func([]byte)) (*Emulator, error) {
	if logger == nil || opts.DisableLogging {
		logger = logging.Discard()
	}

	e := &Emulator{
		Engine:     engine,
		Proc:       proc,
		Dispatcher: dispatcher,
		Options:    opts,
		Logger:     logger,
		entryPoint: entryPoint,
		quantum:    1000,
		silenced:   opts.SilentUntilMain,
		OnSyscall:  onSyscall,
		OnStdout:   onStdout,
	}

	dispatcher.Verbose = opts.VerboseCalls
	dispatcher.Logger = &gatedLogger{inner: logger, silenced: &e.silenced}
	if e.OnSyscall != nil {
		dispatcher.OnUnknown = e.OnSyscall
	} else {
		dispatcher.OnUnknown = e.onUnknownSyscall
	}
	if e.OnStdout != nil && proc.Files != nil {
		proc.Files.SetStdoutSink(e.OnStdout)
	}

	if opts.VerboseCalls {
		disasm, err := syscallapi.NewVerboseDisassembler(engine.Mode() == core.Mode64)
		if err != nil {
			return nil, fmt.Errorf("emulator: opening verbose disassembler: %w", err)
		}
		e.Disasm = disasm
	}

	if err := dispatcher.Install(engine); err != nil {
		return nil, fmt.Errorf("emulator: installing syscall dispatcher: %w", err)
	}
	if err := engine.HookInstruction(e.onInstruction); err != nil {
		return nil, fmt.Errorf("emulator: installing instruction hook: %w", err)
	}
	if err := engine.HookMemoryViolation(e.onViolation); err != nil {
		return nil, fmt.Errorf("emulator: installing memory violation hook: %w", err)
	}
	return e, nil
}

// onUnknownSyscall is the default policy for a service index absent from
// the dispatcher's table: log it (subject to the same silence gate) and
// continue rather than aborting the run, since a stub the caller never
// got around to registering a handler for is far more common than an
// actually hostile or corrupted service index.
func (e *Emulator) onUnknownSyscall(serviceID uint32, address uint64, module, name string) syscallapi.Continuation {
	if !e.silenced {
		e.Logger.Debug("unhandled syscall", "service", serviceID, "address", fmt.Sprintf("0x%x", address), "module", module, "name", name)
	}
	return syscallapi.Continue()
}

// onInstruction fires once per guest instruction: it counts ticks,
// releases the silent_until_main gate once RIP reaches entryPoint, checks
// the run's stop conditions (cancellation, deadline, instruction budget),
// and performs a scheduling step every quantum ticks or immediately if the
// current thread just blocked.
func (e *Emulator) onInstruction(addr uint64, size uint32) {
	e.ticks++
	e.advanceClocks()
	if e.silenced && addr == e.entryPoint {
		e.silenced = false
	}
	if !e.silenced {
		e.traceInstruction(addr)
	}

	if e.ctx != nil {
		select {
		case <-e.ctx.Done():
			e.stop("canceled", addr, e.ctx.Err().Error())
			return
		default:
		}
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		e.stop("timeout", addr, "run exceeded its configured timeout")
		return
	}
	if e.maxTicks > 0 && e.ticks >= e.maxTicks {
		e.stop("instruction_budget", addr, "run exceeded its configured instruction budget")
		return
	}

	current := e.Proc.Scheduler.Current()
	blocked := current != nil && current.State != process.StateRunning
	if blocked || e.ticks%e.quantum == 0 {
		e.scheduleStep(addr)
	}
}

// traceInstruction decodes the single instruction the hook just fired for
// with x86asm and emits it at Trace level, distinct from the heavier
// gapstone-backed VerboseDisassembler DumpFault uses for a multi-instruction
// dump around a fault: this path runs on every tick, so it needs to stay
// cheap, and x86asm's single-instruction decoder is built for exactly that.
// A decode failure (mid-instruction hook, unsupported encoding) is silently
// skipped rather than surfaced, since it's diagnostic-only.
func (e *Emulator) traceInstruction(addr uint64) {
	if !e.Logger.Enabled(logging.LevelTrace) {
		return
	}
	// x86asm needs up to MaxInstLen bytes of lookahead regardless of how
	// long this particular instruction turns out to be; reading exactly
	// the hook-reported size risks ErrTruncated on multi-byte encodings.
	code, err := e.Engine.MemRead(addr, x86asm.MaxInstLen)
	if err != nil {
		return
	}
	mode := 64
	if e.Engine.Mode() == core.Mode32 {
		mode = 32
	}
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return
	}
	e.Logger.Trace("instruction", "addr", fmt.Sprintf("0x%x", addr), "asm", x86asm.GNUSyntax(inst, addr, nil))
}

// instructionTick100ns is how far the virtual clocks move per executed
// instruction under use_relative_time: a fixed, deterministic amount of
// simulated time rather than whatever the host's real clock happened to
// measure, so two runs of the same guest against the same seed observe an
// identical wall clock and QueryPerformanceCounter regardless of host load.
const instructionTick100ns int64 = 1

// advanceClocks moves Proc.Clocks forward once per instruction, using
// either mode use_relative_time selects: a fixed simulated tick derived
// from instruction count, or the host's actual elapsed wall-clock time.
// Without this the wall clock and QPC only ever moved when the scheduler
// fast-forwarded past a timed wait, leaving both frozen for any run with no
// waiting threads.
func (e *Emulator) advanceClocks() {
	if e.Options.UseRelativeTime {
		e.Proc.Clocks.Advance(instructionTick100ns)
		return
	}
	now := time.Now()
	if !e.lastHostTime.IsZero() {
		if delta := now.Sub(e.lastHostTime).Nanoseconds() / 100; delta > 0 {
			e.Proc.Clocks.Advance(delta)
		}
	}
	e.lastHostTime = now
}

// scheduleStep advances the scheduler, applies any completions the syscall
// dispatcher deferred (including those of waits the scheduler just
// resolved), and performs the register-context half of a switch if the
// selected thread changed. A nil Next() means every thread
// is blocked with nothing left to fast-forward to: a genuine deadlock, so
// the run stops rather than spinning forever.
func (e *Emulator) scheduleStep(addr uint64) {
	from := e.Proc.Scheduler.Current()
	to := e.Proc.Scheduler.Next()
	e.Dispatcher.ApplyPendingCompletions()
	if to == nil {
		e.stop("deadlock", addr, "no runnable thread and no pending timed wait")
		return
	}
	if to.State == process.StateTerminated {
		e.stop("exited", addr, "primary thread terminated")
		e.exitCode = to.ExitCode
		return
	}
	if to != from {
		if err := process.SwitchTo(e.Engine, from, to); err != nil {
			e.stop("context_switch", addr, err.Error())
		}
	}
}

// onViolation handles an unmapped or protection-violating memory access
// by raising it as a guest exception into the faulting thread's SEH
// chain; if nothing catches it, the run stops and reports the exception
// code as the exit code, matching an untrapped guest fault terminating
// the process.
func (e *Emulator) onViolation(access int, addr uint64, size int, value int64) bool {
	snap := e.Engine.ReadRegisters()
	rip, _ := util.CurrentIP(snap)

	t := e.Proc.Scheduler.Current()
	fault := process.Fault{Code: process.StatusAccessViolation, Address: rip, Info: []uint64{uint64(access), addr}}
	if t == nil {
		e.stop("access_violation", rip, fmt.Sprintf("no current thread (addr=0x%x)", addr))
		return false
	}

	handled, err := e.Proc.RaiseException(t, snap, fault)
	if err != nil {
		e.stop("access_violation", rip, err.Error())
		return false
	}
	if !handled {
		e.exitCode = fault.Code
		e.stop("access_violation", rip, fmt.Sprintf("unhandled fault accessing 0x%x", addr))
		return false
	}
	if err := e.Engine.WriteRegisters(snap); err != nil {
		e.stop("access_violation", rip, err.Error())
		return false
	}
	return true
}

func (e *Emulator) stop(kind string, rip uint64, msg string) {
	if e.stopErr == nil {
		e.stopErr = &Error{Kind: kind, RIP: rip, Module: e.moduleAt(rip), Msg: msg}
	}
	e.Engine.Stop()
}

func (e *Emulator) moduleAt(addr uint64) string {
	if m, ok := e.Proc.Modules.GetByAddress(addr); ok {
		return m.Name
	}
	return ""
}

// Start drives the run loop from entryPoint until the primary thread
// exits, ctx is canceled, timeout elapses, or maxInstructions execute
// (0 means unbounded on both the timeout and instruction axes). It
// returns the guest's exit code; a non-nil error means the run loop
// itself stopped the run rather than the guest exiting normally (a
// deadlock, an unhandled fault reported through exitCode as well as
// err.Kind == "access_violation", cancellation, or a timeout).
func (e *Emulator) Start(ctx context.Context, timeout time.Duration, maxInstructions uint64) (exitCode uint32, err error) {
	current := e.Proc.Scheduler.Current()
	if current == nil {
		return 0, &Error{Kind: "no_runnable_thread", Msg: "process context has no thread to schedule"}
	}

	e.ctx = ctx
	e.maxTicks = maxInstructions
	e.deadline = time.Time{}
	if timeout > 0 {
		e.deadline = time.Now().Add(timeout)
	}
	e.stopErr = nil

	if err := process.SwitchTo(e.Engine, nil, current); err != nil {
		return 0, &Error{Kind: "context_switch", Msg: err.Error()}
	}

	if err := e.Engine.Run(e.entryPoint, 0, 0); err != nil {
		rip, _ := util.CurrentIP(e.Engine.ReadRegisters())
		return e.exitCode, &Error{Kind: "engine_error", RIP: rip, Module: e.moduleAt(rip), Msg: err.Error()}
	}

	if e.stopErr != nil {
		switch e.stopErr.Kind {
		case "exited":
			return e.exitCode, nil
		default:
			return e.exitCode, e.stopErr
		}
	}
	return e.exitCode, nil
}

// DumpFault renders a multi-instruction disassembly around addr using the
// verbose Capstone-backed disassembler, for diagnostics after Start
// returns a non-nil error. It requires VerboseCalls to have been set (the
// disassembler is otherwise never opened).
func (e *Emulator) DumpFault(addr uint64, size uint64) (string, error) {
	if e.Disasm == nil {
		return "", fmt.Errorf("emulator: DumpFault requires verbose_calls to be enabled")
	}
	code, err := e.Engine.MemRead(addr, size)
	if err != nil {
		return "", fmt.Errorf("emulator: reading code at 0x%x: %w", addr, err)
	}
	return e.Disasm.Dump(code, addr)
}

// Close releases resources New opened (currently just the verbose
// disassembler, if one was constructed).
func (e *Emulator) Close() error {
	if e.Disasm != nil {
		return e.Disasm.Close()
	}
	return nil
}
