package pefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

type importDirectoryEntry struct {
	ImportLookupTableRva  uint32
	TimeDateStamp         uint32
	ForwarderChain        uint32
	NameRva               uint32
	ImportAddressTableRva uint32
}

// ImportInfo is one resolved import thunk: which DLL/function it targets,
// and the offset of its IAT slot within the import section's raw data,
// which module.Manager patches with the real address once the target is
// loaded (or a syscall trampoline for stubs).
type ImportInfo struct {
	DllName  string
	FuncName string
	Offset   uint64
	Ordinal  uint16
}

func (pe *PeFile) ImportedDlls() []string {
	seen := make(map[string]bool)
	var out []string
	for _, imp := range pe.Imports {
		if !seen[imp.DllName] {
			seen[imp.DllName] = true
			out = append(out, imp.DllName)
		}
	}
	return out
}

// SetImportAddress patches the resolved IAT slot for importInfo with the
// mapped address of its target.
func (pe *PeFile) SetImportAddress(imp *ImportInfo, realAddr uint64) error {
	section := pe.section(DirImport)
	if section == nil {
		return fmt.Errorf("pefile: no import section in %s to patch %s.%s", pe.Path, imp.DllName, imp.FuncName)
	}

	thunkAddress := imp.Offset
	if pe.PeType == Pe32 {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(realAddr))
		copy(section.Raw[thunkAddress:], buf)
	} else {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, realAddr)
		copy(section.Raw[thunkAddress:], buf)
	}
	return nil
}

func (pe *PeFile) readImports() {
	section := pe.section(DirImport)
	if section == nil {
		return
	}

	importsRva := pe.dataDirectory(DirImport).VirtualAddress
	tableOffset := importsRva - section.VirtualAddress

	r := bytes.NewReader(section.Raw)
	entrySize := uint32(binary.Size(importDirectoryEntry{}))

	for offset := tableOffset; ; offset += entrySize {
		if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
			return
		}
		dir := importDirectoryEntry{}
		if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
			return
		}
		if dir.NameRva == 0 {
			break
		}

		name := strings.ToLower(readCString(section.Raw[dir.NameRva-section.VirtualAddress:]))

		if pe.PeType == Pe32 {
			pe.readImportThunks32(section, dir, name)
		} else {
			pe.readImportThunks64(section, dir, name)
		}
	}
}

func (pe *PeFile) readImportThunks32(section *Section, dir importDirectoryEntry, name string) {
	thunkTable := dir.ImportAddressTableRva - section.VirtualAddress
	if dir.ImportLookupTableRva > section.VirtualAddress {
		thunkTable = dir.ImportLookupTableRva - section.VirtualAddress
	}
	iatSlot := dir.ImportAddressTableRva - section.VirtualAddress

	for thunk := int(thunkTable); ; thunk += 4 {
		if thunk+4 > len(section.Raw) {
			return
		}
		entry := binary.LittleEndian.Uint32(section.Raw[thunk : thunk+4])
		if entry == 0 {
			return
		}

		if entry&0x80000000 != 0 {
			ord := uint16(entry & 0xffff)
			pe.Imports = append(pe.Imports, &ImportInfo{DllName: name, Offset: uint64(iatSlot), Ordinal: ord})
		} else if sec := pe.sectionByRva(entry + 2); sec != nil {
			fn := readCString(sec.Raw[entry+2-sec.VirtualAddress:])
			pe.Imports = append(pe.Imports, &ImportInfo{DllName: name, FuncName: fn, Offset: uint64(iatSlot)})
		}
		iatSlot += 4
	}
}

func (pe *PeFile) readImportThunks64(section *Section, dir importDirectoryEntry, name string) {
	thunkTable := dir.ImportAddressTableRva - section.VirtualAddress
	if dir.ImportLookupTableRva > section.VirtualAddress {
		thunkTable = dir.ImportLookupTableRva - section.VirtualAddress
	}
	iatSlot := uint64(dir.ImportAddressTableRva - section.VirtualAddress)

	for thunk := int(thunkTable); ; thunk += 8 {
		if thunk+8 > len(section.Raw) {
			return
		}
		entry := binary.LittleEndian.Uint64(section.Raw[thunk : thunk+8])
		if entry == 0 {
			return
		}

		if entry&0x8000000000000000 != 0 {
			ord := uint16(entry & 0xffff)
			pe.Imports = append(pe.Imports, &ImportInfo{DllName: name, Offset: iatSlot, Ordinal: ord})
		} else {
			fn := readCString(section.Raw[uint32(entry)+2-section.VirtualAddress:])
			pe.Imports = append(pe.Imports, &ImportInfo{DllName: name, FuncName: fn, Offset: iatSlot})
		}
		iatSlot += 8
	}
}
