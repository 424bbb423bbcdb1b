package syscallapi

import (
	"errors"

	"github.com/coldharbor/ntwine/memory"
	"github.com/coldharbor/ntwine/process"
	"github.com/coldharbor/ntwine/registry"
	"github.com/coldharbor/ntwine/util"
)

var errEmptyKeyPath = errors.New("syscallapi: empty registry key path")

// ntCreateKey implements NtCreateKey: open-or-create a key path (resolved
// through the root handle's hive, if any, plus a relative wide-string
// subkey name) and hand back a handle to it.
//
// Args: [0] *KeyHandle, [1] DesiredAccess, [2] RootHandle, [3] *SubKeyNameW,
// [4] Disposition (out, unused)
func ntCreateKey(env *Env, call *Call) Result {
	path, err := resolveKeyPath(env, call.Args[2], call.Args[3])
	if err != nil {
		return Done(StatusObjectPathNotFound)
	}
	if err := env.Proc.Registry.CreateKey(path); err != nil {
		return Done(StatusUnsuccessful)
	}
	h := env.Proc.Handles.New(process.TagKey, &process.KeyObject{Path: path}, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntOpenKey implements NtOpenKey: like ntCreateKey but fails when the key
// doesn't already exist.
//
// Args: [0] *KeyHandle, [1] DesiredAccess, [2] RootHandle, [3] *SubKeyNameW
func ntOpenKey(env *Env, call *Call) Result {
	path, err := resolveKeyPath(env, call.Args[2], call.Args[3])
	if err != nil {
		return Done(StatusObjectPathNotFound)
	}
	ok, err := env.Proc.Registry.OpenKey(path)
	if err != nil || !ok {
		return Done(StatusObjectNameNotFound)
	}
	h := env.Proc.Handles.New(process.TagKey, &process.KeyObject{Path: path}, uint32(call.Args[1]), false)
	if err := util.PutPointer(env.Proc.Mem, env.Engine.PtrSize(), call.Args[0], uint64(h.Value()), memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	return Done(StatusSuccess)
}

// ntSetValueKey implements NtSetValueKey.
//
// Args: [0] KeyHandle, [1] *ValueNameW, [2] TitleIndex (unused),
// [3] Type, [4] *Data, [5] DataSize
func ntSetValueKey(env *Env, call *Call) Result {
	key, ok := resolveKeyObject(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	name := util.ReadWideChar(env.Proc.Mem, call.Args[1], 260, memory.Guest)
	data, err := env.Proc.Mem.Read(call.Args[4], call.Args[5], memory.Guest)
	if err != nil {
		return Done(StatusAccessViolation)
	}
	if err := env.Proc.Registry.SetValue(key.Path, name, registry.ValueType(call.Args[3]), data); err != nil {
		return Done(StatusUnsuccessful)
	}
	return Done(StatusSuccess)
}

// ntQueryValueKey answers every information class with one simplified
// record: the value type as an 8-byte little-endian integer followed by the
// raw data, with no title index and no data-length field. The record's
// total length is reported through *ResultLength.
//
// Args: [0] KeyHandle, [1] *ValueNameW, [2] InformationClass,
// [3] *KeyValueInformation, [4] Length, [5] *ResultLength
func ntQueryValueKey(env *Env, call *Call) Result {
	key, ok := resolveKeyObject(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	name := util.ReadWideChar(env.Proc.Mem, call.Args[1], 260, memory.Guest)
	v, ok := env.Proc.Registry.QueryValue(key.Path, name)
	if !ok {
		return Done(StatusObjectNameNotFound)
	}

	buf := make([]byte, 8+len(v.Data))
	util.PutUint64(buf[0:], uint64(v.Type))
	copy(buf[8:], v.Data)
	if uint64(len(buf)) > call.Args[4] {
		if call.Args[5] != 0 {
			_ = util.PutPointer(env.Proc.Mem, 4, call.Args[5], uint64(len(buf)), memory.Guest)
		}
		return Done(StatusBufferTooSmall)
	}
	if err := env.Proc.Mem.Write(call.Args[3], buf, memory.Guest); err != nil {
		return Done(StatusAccessViolation)
	}
	if call.Args[5] != 0 {
		_ = util.PutPointer(env.Proc.Mem, 4, call.Args[5], uint64(len(buf)), memory.Guest)
	}
	return Done(StatusSuccess)
}

// ntDeleteKey implements NtDeleteKey.
//
// Args: [0] KeyHandle
func ntDeleteKey(env *Env, call *Call) Result {
	key, ok := resolveKeyObject(env, call.Args[0])
	if !ok {
		return Done(StatusInvalidHandle)
	}
	if err := env.Proc.Registry.DeleteKey(key.Path); err != nil {
		return Done(StatusUnsuccessful)
	}
	return Done(StatusSuccess)
}

func resolveKeyObject(env *Env, handle uint64) (*process.KeyObject, bool) {
	obj, tag, err := env.Proc.Handles.Lookup(uint32(handle))
	if err != nil || tag != process.TagKey {
		return nil, false
	}
	return obj.(*process.KeyObject), true
}

func resolveKeyPath(env *Env, rootHandle, subKeyNamePtr uint64) (string, error) {
	prefix := ""
	if rootHandle != 0 {
		if key, ok := resolveKeyObject(env, rootHandle); ok {
			prefix = key.Path
		} else if hive, ok := registry.HiveName(rootHandle); ok {
			prefix = hive
		}
	}
	sub := ""
	if subKeyNamePtr != 0 {
		sub = util.ReadWideChar(env.Proc.Mem, subKeyNamePtr, 512, memory.Guest)
	}
	switch {
	case prefix == "" && sub == "":
		return "", errEmptyKeyPath
	case prefix == "":
		return sub, nil
	case sub == "":
		return prefix, nil
	default:
		return prefix + `\` + sub, nil
	}
}
