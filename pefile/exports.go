package pefile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type exportDirectory struct {
	ExportFlags          uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NameRva              uint32
	OrdinalBase          uint32
	NumberOfFunctions    uint32
	NumberOfNamePointers uint32
	FunctionsRva         uint32
	NamesRva             uint32
	OrdinalsRva          uint32
}

// Export is one entry in a module's export table: a name (possibly empty
// for ordinal-only exports), ordinal, and RVA of the exported symbol. A
// forwarded export (one whose function-table entry points back inside the
// export directory itself, per the PE forwarder convention) carries Forward
// instead of a meaningful Rva: "TARGETDLL.FuncName" or "TARGETDLL.#12" for
// an ordinal-only target, exactly as it appears in the image.
type Export struct {
	Name    string
	Ordinal uint16
	Rva     uint32
	Forward string
}

func (pe *PeFile) readExports() error {
	section := pe.section(DirExport)
	if section == nil {
		return nil
	}

	exportsRva := pe.dataDirectory(DirExport).VirtualAddress
	tableOffset := exportsRva - section.VirtualAddress

	r := bytes.NewReader(section.Raw)
	if _, err := r.Seek(int64(tableOffset), io.SeekStart); err != nil {
		return fmt.Errorf("pefile: seeking export directory of %s: %w", pe.Path, err)
	}

	dir := exportDirectory{}
	if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
		return fmt.Errorf("pefile: reading export directory of %s: %w", pe.Path, err)
	}

	names := dir.NamesRva - section.VirtualAddress
	ordinals := dir.OrdinalsRva - section.VirtualAddress

	forwarderLo := exportsRva
	forwarderHi := exportsRva + pe.dataDirectory(DirExport).Size

	pe.ExportNameMap = make(map[string]Export)
	pe.ExportOrdinalMap = make(map[int]Export)

	for i := 0; i < int(dir.NumberOfNamePointers); i++ {
		if _, err := r.Seek(int64(names+uint32(i*4)), io.SeekStart); err != nil {
			return fmt.Errorf("pefile: seeking export names table of %s: %w", pe.Path, err)
		}
		var nameRva uint32
		if err := binary.Read(r, binary.LittleEndian, &nameRva); err != nil {
			return fmt.Errorf("pefile: reading export name entry of %s: %w", pe.Path, err)
		}

		name := readCString(section.Raw[nameRva-section.VirtualAddress:])
		ordinal := binary.LittleEndian.Uint16(section.Raw[ordinals+uint32(i*2) : ordinals+uint32(i*2)+2])

		fnOffset := int64(uint32(ordinal)*4 + dir.FunctionsRva - section.VirtualAddress)
		if _, err := r.Seek(fnOffset, io.SeekStart); err != nil {
			return fmt.Errorf("pefile: seeking export ordinal table of %s: %w", pe.Path, err)
		}
		var fnRva uint32
		if err := binary.Read(r, binary.LittleEndian, &fnRva); err != nil {
			return fmt.Errorf("pefile: reading export ordinal entry of %s: %w", pe.Path, err)
		}

		export := Export{Name: name, Ordinal: ordinal}
		if fnRva >= forwarderLo && fnRva < forwarderHi {
			// This DWORD isn't a code RVA: it points inside the export
			// directory itself, which per the PE forwarder convention means
			// it's the RVA of a "TARGETDLL.FuncName" string rather than the
			// address of the exported symbol.
			export.Forward = readCString(section.Raw[fnRva-section.VirtualAddress:])
		} else {
			export.Rva = fnRva
		}
		pe.Exports = append(pe.Exports, export)
		pe.ExportNameMap[name] = export
		pe.ExportOrdinalMap[int(ordinal)] = export
	}

	return nil
}
