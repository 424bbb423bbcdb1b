package syscallapi

import (
	"io"

	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/util"
)

// ntCreateFile implements NtCreateFile against the in-memory virtual
// filesystem: no real host path is ever touched. CreateDisposition follows
// the same numbering as the Win32 constants (FILE_SUPERSEDE=0,
// FILE_CREATE=2, FILE_OPEN=1, FILE_OPEN_IF=3, ...); this repo only
// distinguishes "must exist" from "create if missing".
//
// Args: [0] *FileHandle, [1] DesiredAccess, [2] *PathNameW,
// [3] *IoStatusBlock (unused), [4] AllocationSize (unused),
// [5] FileAttributes (unused), [6] ShareAccess (unused),
// [7] CreateDisposition, [8] CreateOptions (unused)
func ntCreateFile(env *Env, call *Call) Result {
	const fileCreate = 2
	const fileOpen = 1

	path := util.ReadWideChar(env.Proc.Mem, call.Args[2], 260, memory.Guest)
	disposition := call.Args[7]

	create := disposition != fileOpen
	fo, err := env.Proc.Files.Open(path, create)
	if err != nil {
		return Done(StatusNoSuchFile)
	}
	if disposition == fileCreate {
		fo.Access = uint32(call.Args[1])
	}

	h := env.Proc.Handles.New(process.TagFile, fo, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntReadFile implements NtReadFile.
//
// Args: [0] FileHandle, [1] Event (unused), [2] ApcRoutine (unused),
// [3] ApcContext (unused), [4] *IoStatusBlock (unused), [5] *Buffer,
// [6] Length, [7] *ByteOffset (unused), [8] *Key (unused)
func ntReadFile(env *Env, call *Call) Result {
	fo, ok := resolveFileObject(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	buf := make([]byte, call.Args[6])
	n, err := fo.Read(buf)
	if err != nil && err != io.EOF {
		return Done(StatusUnsuccessful)
	}
	if n == 0 && err == io.EOF {
		return Done(StatusEndOfFile)
	}
	if err := env.Proc.Mem.Write(call.Args[5], buf[:n], memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntWriteFile implements NtWriteFile.
//
// Args: [0] FileHandle, [1] Event (unused), [2] ApcRoutine (unused),
// [3] ApcContext (unused), [4] *IoStatusBlock (unused), [5] *Buffer,
// [6] Length, [7] *ByteOffset (unused), [8] *Key (unused)
func ntWriteFile(env *Env, call *Call) Result {
	fo, ok := resolveFileObject(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	data, err := env.Proc.Mem.Read(call.Args[5], call.Args[6], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if _, err := fo.Write(data); err != nil {
		return Done(StatusUnsuccessful)
	}
	return Done(StatusSuccess)
}

// ntClose implements NtClose against any handle type, running the
// object's ClosePolicy against threads waiting on it before invalidating
// the handle. Object-specific cleanup (releasing a FileObject's backing
// reader) is dispatched by tag.
//
// Args: [0] Handle
func ntClose(env *Env, call *Call) Result {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(call.Args[0]))
	if err != nil {
		return Done(StatusInvalidHandle)
	}
	if tag == process.TagFile {
		_ = obj.(*process.FileObject).Close()
	}
	applyClosePolicy(env.Proc, obj)
	env.Proc.Handles.Close(uint32(call.Args[0]))
	return Done(StatusSuccess)
}

func applyClosePolicy(proc *process.Context, obj process.Object) {
	policy := obj.ClosePolicy()
	if policy == process.CloseNoSignal {
		return
	}
	for _, t := range proc.Threads {
		if t.State != process.StateWaiting || t.Wait == nil {
			continue
		}
		for i, o := range t.Wait.Objects {
			if o != obj {
				continue
			}
			if policy == process.CloseAbandon {
				t.LastStatus = StatusAbandonedWait0
			} else {
				t.LastStatus = StatusSuccess
			}
			t.Wait.Satisfied[i] = true
			t.State = process.StateReady
			t.Wait = nil
			t.WokeFromWait = true
		}
	}
}

func resolveFileObject(env *Env, handle uint64) (*process.FileObject, bool) {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(handle))
	if err != nil || tag != process.TagFile {
		return nil, false
	}
	return obj.(*process.FileObject), true
}
