package syscallapi

import (
	"encoding/binary"
	"fmt"

	"github.com/coldharbor/ntwine/core"
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/util"
)

// trampolineSize is the length in bytes of a synthetic stub: mov eax,
// imm32 (5) + syscall (2) + ret (1).
const trampolineSize = 8

// firstSyntheticService is where synthetic service indices assigned to
// stub exports start, kept well clear of any real NT service index this
// table will ever register directly.
const firstSyntheticService = 0x10000

type stubInfo struct {
	DllName  string
	FuncName string
}

// Dispatcher intercepts every guest `syscall`/legacy `int 0x2e` kernel
// entry, decodes the NT service index out of RAX, dispatches to the
// matching ServiceEntry, and publishes the result back into RAX before
// stepping RIP past the two-byte syscall opcode.
//
// It also implements module.StubResolver: an import the module manager
// can't bind to a real mapped export is instead pointed at a small
// trampoline this dispatcher fabricates, carrying a synthetic service
// index, so Win32-level calls funnel through the same dispatch path as a
// native Nt*/Zw* call.
type Dispatcher struct {
	Proc      *process.Context
	Table     ServiceTable
	OnUnknown UnknownFunc
	Logger    Logger
	Verbose   bool

	stubNext, stubEnd uint64
	stubNames         map[uint32]stubInfo
	nextService       uint32
}

// NewDispatcher builds a dispatcher over table, bound to proc for memory,
// module, and thread/handle access.
func NewDispatcher(proc *process.Context, table ServiceTable) *Dispatcher {
	return &Dispatcher{
		Proc:        proc,
		Table:       table,
		stubNames:   make(map[uint32]stubInfo),
		nextService: firstSyntheticService,
	}
}

// Install wires the dispatcher into engine's interrupt hook.
func (d *Dispatcher) Install(engine core.Engine) error {
	return engine.HookInterrupt(func(uint32) {
		d.dispatch(engine)
	})
}

// dispatch runs once per trapped interrupt. Any interrupt reaching this
// hook is treated as a kernel-entry request: real hardware faults are
// routed through core.Engine's memory-violation hook instead, so nothing
// else legitimately lands here.
func (d *Dispatcher) dispatch(engine core.Engine) {
	snap := engine.ReadRegisters()
	serviceID64, err := util.GetRAX(snap)
	if err != nil {
		return
	}
	serviceID := uint32(serviceID64)
	address, _ := util.CurrentIP(snap)

	entry, ok := d.Table[serviceID]
	if !ok {
		status := d.resolveUnknown(engine, serviceID, address)
		d.finish(engine, snap, status)
		return
	}

	args, err := decodeArgs(d.Proc.Mem, engine.Mode(), snap, entry.Arity)
	if err != nil {
		d.finish(engine, snap, StatusAccessViolation)
		return
	}

	call := &Call{ServiceID: serviceID, Name: entry.Name, Args: args}
	env := &Env{Proc: d.Proc, Engine: engine}
	result := entry.Handler(env, call)

	if d.Logger != nil && d.Verbose {
		inst := &Instruction{
			ThreadID:   currentThreadID(d.Proc),
			Address:    address,
			ServiceID:  serviceID,
			Name:       entry.Name,
			Parameters: entry.Parameters,
			Args:       args,
			Values:     call.Values,
			Return:     uint64(result.Status),
		}
		inst.ParseValues(d.Proc.Mem)
		d.Logger.Debug(inst.StringHook())
	}

	if result.Blocked {
		// RIP still needs to move past the syscall opcode now; the
		// calling thread's RAX is filled in later by
		// ApplyPendingCompletions once its wait resolves.
		util.AdvanceIP(snap, 2)
		engine.WriteRegisters(snap)
		return
	}

	d.finish(engine, snap, result.Status)
}

func (d *Dispatcher) finish(engine core.Engine, snap interface{}, status uint32) {
	util.SetRAX(snap, uint64(status))
	util.AdvanceIP(snap, 2)
	engine.WriteRegisters(snap)
}

func currentThreadID(proc *process.Context) uint32 {
	if t := proc.Scheduler.Current(); t != nil {
		return t.ID
	}
	return 0
}

func (d *Dispatcher) resolveUnknown(engine core.Engine, serviceID uint32, address uint64) uint32 {
	name, dll := "", ""
	if info, ok := d.stubNames[serviceID]; ok {
		name, dll = info.FuncName, info.DllName
	}
	if d.OnUnknown == nil {
		return StatusNotImplemented
	}
	cont := d.OnUnknown(serviceID, address, dll, name)
	switch cont.action {
	case actionSkip:
		return cont.status
	case actionAbort:
		engine.Stop()
		return StatusUnsuccessful
	default:
		return StatusSuccess
	}
}

// ApplyPendingCompletions writes the deferred NTSTATUS into RAX for every
// thread whose wait has just resolved, ahead of the scheduler restoring it
// into the engine. The emulator run loop calls this once per scheduling
// step, right after Scheduler.Next() and before SwitchTo.
func (d *Dispatcher) ApplyPendingCompletions() {
	for _, t := range d.Proc.Threads {
		if !t.WokeFromWait {
			continue
		}
		if snap := t.Regs(); snap != nil {
			util.SetRAX(snap, uint64(t.LastStatus))
		}
		t.WokeFromWait = false
	}
}

// decodeArgs pulls arity arguments off the register/stack combination
// Windows x86-64 (RCX, RDX, R8, R9, then [RSP+0x28+8*i]) or WOW64 stdcall
// (everything on the stack above the return address) uses, matching which
// mode the guest is currently executing in.
func decodeArgs(mem *memory.Manager, mode int, snap interface{}, arity int) ([]uint64, error) {
	args := make([]uint64, arity)
	if mode == core.Mode32 {
		r := snap.(*core.Registers32)
		for i := 0; i < arity; i++ {
			v, err := util.GetPointer(mem, 4, r.Esp+uint64(4*(i+1)), memory.Privileged)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return args, nil
	}

	r := snap.(*core.Registers64)
	regArgs := [4]uint64{r.Rcx, r.Rdx, r.R8, r.R9}
	for i := 0; i < arity; i++ {
		if i < 4 {
			args[i] = regArgs[i]
			continue
		}
		addr := r.Rsp + 0x28 + uint64(8*(i-4))
		v, err := util.GetPointer(mem, 8, addr, memory.Privileged)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// ResolveStub implements module.StubResolver: it fabricates a small guest
// trampoline (mov eax, id; syscall; ret) and hands its address back as the
// import target, assigning id as a synthetic service index the caller
// should later register a real Handler for via Table, or leave for
// OnUnknown to field.
func (d *Dispatcher) ResolveStub(dllName, funcName string) (uint64, error) {
	if err := d.ensureStubRegion(); err != nil {
		return 0, err
	}

	id := d.nextService
	d.nextService++
	d.stubNames[id] = stubInfo{DllName: dllName, FuncName: funcName}

	addr := d.stubNext
	d.stubNext += trampolineSize

	code := make([]byte, trampolineSize)
	code[0] = 0xb8 // mov eax, imm32
	binary.LittleEndian.PutUint32(code[1:5], id)
	code[5], code[6] = 0x0f, 0x05 // syscall
	code[7] = 0xc3                // ret
	if err := d.Proc.Mem.Write(addr, code, memory.Privileged); err != nil {
		return 0, fmt.Errorf("syscallapi: writing stub trampoline for %s!%s: %w", dllName, funcName, err)
	}
	return addr, nil
}

func (d *Dispatcher) ensureStubRegion() error {
	if d.stubNext+trampolineSize <= d.stubEnd {
		return nil
	}
	const chunk = 0x10000
	base, err := d.Proc.Mem.Reserve(0, chunk, core.ProtRead|core.ProtExec, memory.TagPrivate)
	if err != nil {
		return fmt.Errorf("syscallapi: reserving stub trampoline region: %w", err)
	}
	if err := d.Proc.Mem.Commit(base, chunk, core.ProtRead|core.ProtExec); err != nil {
		return fmt.Errorf("syscallapi: committing stub trampoline region: %w", err)
	}
	d.stubNext = base
	d.stubEnd = base + chunk
	return nil
}

// RegisterStub gives a synthetic service index a real Handler, letting a
// Win32-level API hooked purely for convenience behave like any other
// registered service instead of falling through to OnUnknown.
func (d *Dispatcher) RegisterStub(serviceID uint32, entry ServiceEntry) {
	d.Table[serviceID] = entry
}

// FindStub looks up the synthetic service index ResolveStub assigned to a
// given import, so a table-construction routine can bind a real Handler to
// it by name after module loading has run.
func (d *Dispatcher) FindStub(dllName, funcName string) (uint32, bool) {
	for id, info := range d.stubNames {
		if info.DllName == dllName && info.FuncName == funcName {
			return id, true
		}
	}
	return 0, false
}
