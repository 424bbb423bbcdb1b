package syscallapi

// NT service indices. Real ntdll builds renumber these every Windows
// release; since every guest binary here enters through this dispatcher
// rather than a real ntdll stub, the numbers only need to be internally
// consistent, not to match any specific Windows build's SSN table.
const (
	SvcAllocateVirtualMemory uint32 = 0x0018
	SvcFreeVirtualMemory     uint32 = 0x001e
	SvcProtectVirtualMemory  uint32 = 0x0050
	SvcQueryVirtualMemory    uint32 = 0x0023
	SvcReadVirtualMemory     uint32 = 0x003f
	SvcWriteVirtualMemory    uint32 = 0x003a

	SvcCreateEvent      uint32 = 0x0048
	SvcSetEvent         uint32 = 0x002c
	SvcResetEvent       uint32 = 0x002d
	SvcPulseEvent       uint32 = 0x002f
	SvcCreateMutant     uint32 = 0x0059
	SvcReleaseMutant    uint32 = 0x005a
	SvcCreateSemaphore  uint32 = 0x005c
	SvcReleaseSemaphore uint32 = 0x005d

	SvcWaitForSingleObject    uint32 = 0x0004
	SvcWaitForMultipleObjects uint32 = 0x0005
	SvcDelayExecution         uint32 = 0x0034

	SvcCreateThreadEx   uint32 = 0x00c1
	SvcTerminateThread  uint32 = 0x0053
	SvcSuspendThread    uint32 = 0x0002
	SvcResumeThread     uint32 = 0x0052
	SvcGetContextThread uint32 = 0x00d1
	SvcSetContextThread uint32 = 0x0068

	SvcTerminateProcess        uint32 = 0x102c // disjoint from any Svc* index above
	SvcQueryInformationProcess uint32 = 0x0019

	SvcCreateFile uint32 = 0x0055
	SvcReadFile   uint32 = 0x0006
	SvcWriteFile  uint32 = 0x0008
	SvcClose      uint32 = 0x000f

	SvcCreateKey     uint32 = 0x001d
	SvcOpenKey       uint32 = 0x0012
	SvcSetValueKey   uint32 = 0x001f
	SvcQueryValueKey uint32 = 0x0011
	SvcDeleteKey     uint32 = 0x0020

	SvcLdrGetDllHandle        uint32 = 0x2001
	SvcLdrGetProcedureAddress uint32 = 0x2002
)

// BuildServiceTable assembles the concrete mapping from service index to
// handler this repo's dispatcher runs against. It is a single flat map
// rather than the per-DLL tables Win32 exposes, since every entry here is
// addressed the same way: by the numeric index the guest loads into RAX
// before trapping into the kernel.
func BuildServiceTable() ServiceTable {
	t := make(ServiceTable)

	t[SvcAllocateVirtualMemory] = ServiceEntry{Name: "NtAllocateVirtualMemory", Handler: ntAllocateVirtualMemory, Arity: 6,
		Parameters: []string{"_:ProcessHandle", "v:BaseAddress", "d:ZeroBits", "v:RegionSize", "d:AllocationType", "d:Protect"}}
	t[SvcFreeVirtualMemory] = ServiceEntry{Name: "NtFreeVirtualMemory", Handler: ntFreeVirtualMemory, Arity: 4,
		Parameters: []string{"_:ProcessHandle", "v:BaseAddress", "v:RegionSize", "d:FreeType"}}
	t[SvcProtectVirtualMemory] = ServiceEntry{Name: "NtProtectVirtualMemory", Handler: ntProtectVirtualMemory, Arity: 5,
		Parameters: []string{"_:ProcessHandle", "v:BaseAddress", "v:RegionSize", "d:NewProtect", "v:OldProtect"}}
	t[SvcQueryVirtualMemory] = ServiceEntry{Name: "NtQueryVirtualMemory", Handler: ntQueryVirtualMemory, Arity: 6,
		Parameters: []string{"_:ProcessHandle", "v:BaseAddress", "d:InformationClass", "v:MemoryInformation", "d:Length", "v:ReturnLength"}}
	t[SvcReadVirtualMemory] = ServiceEntry{Name: "NtReadVirtualMemory", Handler: ntReadVirtualMemory, Arity: 5,
		Parameters: []string{"_:ProcessHandle", "v:BaseAddress", "v:Buffer", "d:Size", "v:NumberOfBytesRead"}}
	t[SvcWriteVirtualMemory] = ServiceEntry{Name: "NtWriteVirtualMemory", Handler: ntWriteVirtualMemory, Arity: 5,
		Parameters: []string{"_:ProcessHandle", "v:BaseAddress", "v:Buffer", "d:Size", "v:NumberOfBytesWritten"}}

	t[SvcCreateEvent] = ServiceEntry{Name: "NtCreateEvent", Handler: ntCreateEvent, Arity: 5,
		Parameters: []string{"v:EventHandle", "d:DesiredAccess", "_:ObjectAttributes", "d:EventType", "d:InitialState"}}
	t[SvcSetEvent] = ServiceEntry{Name: "NtSetEvent", Handler: ntSetEvent, Arity: 2, Parameters: []string{"_:EventHandle", "v:PreviousState"}}
	t[SvcResetEvent] = ServiceEntry{Name: "NtResetEvent", Handler: ntResetEvent, Arity: 2, Parameters: []string{"_:EventHandle", "v:PreviousState"}}
	t[SvcPulseEvent] = ServiceEntry{Name: "NtPulseEvent", Handler: ntPulseEvent, Arity: 2, Parameters: []string{"_:EventHandle", "v:PreviousState"}}
	t[SvcCreateMutant] = ServiceEntry{Name: "NtCreateMutant", Handler: ntCreateMutant, Arity: 4,
		Parameters: []string{"v:MutantHandle", "d:DesiredAccess", "_:ObjectAttributes", "d:InitialOwner"}}
	t[SvcReleaseMutant] = ServiceEntry{Name: "NtReleaseMutant", Handler: ntReleaseMutant, Arity: 2, Parameters: []string{"_:MutantHandle", "v:PreviousCount"}}
	t[SvcCreateSemaphore] = ServiceEntry{Name: "NtCreateSemaphore", Handler: ntCreateSemaphore, Arity: 5,
		Parameters: []string{"v:SemaphoreHandle", "d:DesiredAccess", "_:ObjectAttributes", "d:InitialCount", "d:MaximumCount"}}
	t[SvcReleaseSemaphore] = ServiceEntry{Name: "NtReleaseSemaphore", Handler: ntReleaseSemaphore, Arity: 3,
		Parameters: []string{"_:SemaphoreHandle", "d:ReleaseCount", "v:PreviousCount"}}

	t[SvcWaitForSingleObject] = ServiceEntry{Name: "NtWaitForSingleObject", Handler: ntWaitForSingleObject, Arity: 3,
		Parameters: []string{"_:Handle", "d:Alertable", "v:Timeout"}}
	t[SvcWaitForMultipleObjects] = ServiceEntry{Name: "NtWaitForMultipleObjects", Handler: ntWaitForMultipleObjects, Arity: 5,
		Parameters: []string{"d:Count", "v:Handles", "d:WaitType", "d:Alertable", "v:Timeout"}}
	t[SvcDelayExecution] = ServiceEntry{Name: "NtDelayExecution", Handler: ntDelayExecution, Arity: 2,
		Parameters: []string{"d:Alertable", "v:DelayInterval"}}

	t[SvcCreateThreadEx] = ServiceEntry{Name: "NtCreateThreadEx", Handler: ntCreateThreadEx, Arity: 11,
		Parameters: []string{"v:ThreadHandle", "d:DesiredAccess", "_:ObjectAttributes", "_:ProcessHandle", "v:StartRoutine", "v:Argument", "d:CreateFlags", "d:ZeroBits", "d:StackSize", "d:MaximumStackSize", "_:AttributeList"}}
	t[SvcTerminateThread] = ServiceEntry{Name: "NtTerminateThread", Handler: ntTerminateThread, Arity: 2, Parameters: []string{"_:ThreadHandle", "d:ExitStatus"}}
	t[SvcSuspendThread] = ServiceEntry{Name: "NtSuspendThread", Handler: ntSuspendThread, Arity: 2, Parameters: []string{"_:ThreadHandle", "v:PreviousSuspendCount"}}
	t[SvcResumeThread] = ServiceEntry{Name: "NtResumeThread", Handler: ntResumeThread, Arity: 2, Parameters: []string{"_:ThreadHandle", "v:PreviousSuspendCount"}}
	t[SvcGetContextThread] = ServiceEntry{Name: "NtGetContextThread", Handler: ntGetContextThread, Arity: 2, Parameters: []string{"_:ThreadHandle", "v:Context"}}
	t[SvcSetContextThread] = ServiceEntry{Name: "NtSetContextThread", Handler: ntSetContextThread, Arity: 2, Parameters: []string{"_:ThreadHandle", "v:Context"}}

	t[SvcTerminateProcess] = ServiceEntry{Name: "NtTerminateProcess", Handler: ntTerminateProcess, Arity: 2, Parameters: []string{"_:ProcessHandle", "d:ExitStatus"}}
	t[SvcQueryInformationProcess] = ServiceEntry{Name: "NtQueryInformationProcess", Handler: ntQueryInformationProcess, Arity: 5,
		Parameters: []string{"_:ProcessHandle", "d:InformationClass", "v:ProcessInformation", "d:InformationLength", "v:ReturnLength"}}

	t[SvcCreateFile] = ServiceEntry{Name: "NtCreateFile", Handler: ntCreateFile, Arity: 9,
		Parameters: []string{"v:FileHandle", "d:DesiredAccess", "w:PathName", "_:IoStatusBlock", "_:AllocationSize", "d:FileAttributes", "d:ShareAccess", "d:CreateDisposition", "d:CreateOptions"}}
	t[SvcReadFile] = ServiceEntry{Name: "NtReadFile", Handler: ntReadFile, Arity: 9,
		Parameters: []string{"_:FileHandle", "_:Event", "_:ApcRoutine", "_:ApcContext", "_:IoStatusBlock", "v:Buffer", "d:Length", "_:ByteOffset", "_:Key"}}
	t[SvcWriteFile] = ServiceEntry{Name: "NtWriteFile", Handler: ntWriteFile, Arity: 9,
		Parameters: []string{"_:FileHandle", "_:Event", "_:ApcRoutine", "_:ApcContext", "_:IoStatusBlock", "v:Buffer", "d:Length", "_:ByteOffset", "_:Key"}}
	t[SvcClose] = ServiceEntry{Name: "NtClose", Handler: ntClose, Arity: 1, Parameters: []string{"_:Handle"}}

	t[SvcCreateKey] = ServiceEntry{Name: "NtCreateKey", Handler: ntCreateKey, Arity: 5,
		Parameters: []string{"v:KeyHandle", "d:DesiredAccess", "_:RootHandle", "w:SubKeyName", "_:Disposition"}}
	t[SvcOpenKey] = ServiceEntry{Name: "NtOpenKey", Handler: ntOpenKey, Arity: 4,
		Parameters: []string{"v:KeyHandle", "d:DesiredAccess", "_:RootHandle", "w:SubKeyName"}}
	t[SvcSetValueKey] = ServiceEntry{Name: "NtSetValueKey", Handler: ntSetValueKey, Arity: 6,
		Parameters: []string{"_:KeyHandle", "w:ValueName", "_:TitleIndex", "d:Type", "v:Data", "d:DataSize"}}
	t[SvcQueryValueKey] = ServiceEntry{Name: "NtQueryValueKey", Handler: ntQueryValueKey, Arity: 6,
		Parameters: []string{"_:KeyHandle", "w:ValueName", "d:InformationClass", "v:KeyValueInformation", "d:Length", "v:ResultLength"}}
	t[SvcDeleteKey] = ServiceEntry{Name: "NtDeleteKey", Handler: ntDeleteKey, Arity: 1, Parameters: []string{"_:KeyHandle"}}

	t[SvcLdrGetDllHandle] = ServiceEntry{Name: "LdrGetDllHandle", Handler: ldrGetDllHandle, Arity: 2, Parameters: []string{"w:DllName", "v:DllHandle"}}
	t[SvcLdrGetProcedureAddress] = ServiceEntry{Name: "LdrGetProcedureAddress", Handler: ldrGetProcedureAddress, Arity: 4,
		Parameters: []string{"_:ModuleHandle", "a:ProcedureName", "d:Ordinal", "v:ProcedureAddress"}}

	return t
}
