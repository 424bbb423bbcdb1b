package pefile

import (
	"bytes"
	"encoding/binary"
)

type tlsDirectory32 struct {
	StartAddressOfRawData uint32
	EndAddressOfRawData   uint32
	AddressOfIndex        uint32
	AddressOfCallBacks    uint32
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

type tlsDirectory64 struct {
	StartAddressOfRawData uint64
	EndAddressOfRawData   uint64
	AddressOfIndex        uint64
	AddressOfCallBacks    uint64
	SizeOfZeroFill        uint32
	Characteristics       uint32
}

// TLSDirectory is the image's thread-local storage template: the raw data
// range new threads copy into their own TLS block, the slot index cell the
// loader writes, and any TLS callbacks to invoke on thread attach/detach.
type TLSDirectory struct {
	RawDataStart uint64
	RawDataEnd   uint64
	IndexAddress uint64
	Callbacks    []uint64
	ZeroFillSize uint32
}

func (pe *PeFile) readTLS() {
	section := pe.section(DirTLS)
	if section == nil {
		return
	}

	dirRva := pe.dataDirectory(DirTLS).VirtualAddress
	offset := dirRva - section.VirtualAddress
	r := bytes.NewReader(section.Raw[offset:])

	imageBase := pe.ImageBase()

	if pe.PeType == Pe32 {
		dir := tlsDirectory32{}
		if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
			return
		}
		pe.TLS = &TLSDirectory{
			RawDataStart: uint64(dir.StartAddressOfRawData),
			RawDataEnd:   uint64(dir.EndAddressOfRawData),
			IndexAddress: uint64(dir.AddressOfIndex),
			ZeroFillSize: dir.SizeOfZeroFill,
			Callbacks:    pe.readTLSCallbacks32(uint64(dir.AddressOfCallBacks), imageBase),
		}
		return
	}

	dir := tlsDirectory64{}
	if err := binary.Read(r, binary.LittleEndian, &dir); err != nil {
		return
	}
	pe.TLS = &TLSDirectory{
		RawDataStart: dir.StartAddressOfRawData,
		RawDataEnd:   dir.EndAddressOfRawData,
		IndexAddress: dir.AddressOfIndex,
		ZeroFillSize: dir.SizeOfZeroFill,
		Callbacks:    pe.readTLSCallbacks64(dir.AddressOfCallBacks, imageBase),
	}
}

func (pe *PeFile) readTLSCallbacks32(vaOfCallbacks, imageBase uint64) []uint64 {
	if vaOfCallbacks == 0 || vaOfCallbacks < imageBase {
		return nil
	}
	sec := pe.sectionByRva(uint32(vaOfCallbacks - imageBase))
	if sec == nil {
		return nil
	}
	off := uint32(vaOfCallbacks-imageBase) - sec.VirtualAddress

	var out []uint64
	for off+4 <= sec.Size {
		cb := binary.LittleEndian.Uint32(sec.Raw[off : off+4])
		if cb == 0 {
			break
		}
		out = append(out, uint64(cb))
		off += 4
	}
	return out
}

func (pe *PeFile) readTLSCallbacks64(vaOfCallbacks, imageBase uint64) []uint64 {
	if vaOfCallbacks == 0 || vaOfCallbacks < imageBase {
		return nil
	}
	sec := pe.sectionByRva(uint32(vaOfCallbacks - imageBase))
	if sec == nil {
		return nil
	}
	off := uint32(vaOfCallbacks-imageBase) - sec.VirtualAddress

	var out []uint64
	for off+8 <= sec.Size {
		cb := binary.LittleEndian.Uint64(sec.Raw[off : off+8])
		if cb == 0 {
			break
		}
		out = append(out, cb)
		off += 8
	}
	return out
}
