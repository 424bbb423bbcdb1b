package syscallapi

import (
	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/util"
)

// ldrGetDllHandle implements the Ldr-level DLL lookup Win32's
// GetModuleHandle ultimately reaches, simplified to a single wide-string
// pointer argument rather than a full UNICODE_STRING record.
//
// Args: [0] *DllNameW, [1] *DllHandle (out)
func ldrGetDllHandle(env *Env, call *Call) Result {
	name := util.ReadWideChar(env.Proc.Mem, call.Args[0], 260, memory.Guest)
	mod, ok := env.Proc.Modules.FindByName(name)
	if !ok {
		return Done(StatusObjectNameNotFound)
	}
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[1], mod.Base, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ldrGetProcedureAddress implements the Ldr-level export lookup GetProcAddress
// reaches, resolving by name or, when NameA is null, by ordinal.
//
// Args: [0] ModuleHandle (base address), [1] *NameA, [2] Ordinal,
// [3] *ProcedureAddress (out)
func ldrGetProcedureAddress(env *Env, call *Call) Result {
	mod, ok := env.Proc.Modules.GetByAddress(call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	name := ""
	if call.Args[1] != 0 {
		name = util.ReadASCII(env.Proc.Mem, call.Args[1], 260, memory.Guest)
	}
	addr, ok := env.Proc.Modules.GetExport(mod.Name, name, uint16(call.Args[2]))
	if !ok {
		return Done(StatusObjectNameNotFound)
	}
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[3], addr, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}
