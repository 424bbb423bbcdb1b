package pefile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalPE assembles a synthetic PE32+ image in memory: DOS header,
// "PE\0\0" signature, COFF header, one 64-bit optional header, and a
// single .text section with no data directories populated. Enough to
// exercise header/section parsing without needing an on-disk fixture.
func buildMinimalPE(t *testing.T) []byte {
	t.Helper()

	dos := DosHeader{Magic: 0x5a4d, AddressExeHeader: 0x80}
	coff := CoffHeader{Machine: 0x8664, NumberOfSections: 1, SizeOfOptionalHeader: uint16(binary.Size(OptionalHeader32P{}))}
	opt := OptionalHeader32P{Magic: 0x20b, ImageBase: 0x140000000, AddressOfEntryPoint: 0x1000, SectionAlignment: 0x1000, FileAlignment: 0x200}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &dos); err != nil {
		t.Fatalf("writing dos header: %v", err)
	}
	buf.Write(make([]byte, int(dos.AddressExeHeader)-buf.Len()))
	buf.WriteString("PE\x00\x00")
	if err := binary.Write(&buf, binary.LittleEndian, &coff); err != nil {
		t.Fatalf("writing coff header: %v", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, &opt); err != nil {
		t.Fatalf("writing optional header: %v", err)
	}

	sectionsStart := buf.Len()
	sectionDataOffset := uint32(sectionsStart + int(binary.Size(SectionHeader{})))
	sh := SectionHeader{
		VirtualSize:     0x1000,
		VirtualAddress:  0x1000,
		Size:            0x200,
		Offset:          sectionDataOffset,
		Characteristics: SectionMemExecute | SectionMemRead,
	}
	copy(sh.Name[:], ".text")
	if err := binary.Write(&buf, binary.LittleEndian, &sh); err != nil {
		t.Fatalf("writing section header: %v", err)
	}

	buf.Write(make([]byte, sh.Size))
	return buf.Bytes()
}

func TestLoadPeBytesParsesHeaders(t *testing.T) {
	pe, err := LoadPeBytes(buildMinimalPE(t), "synthetic.exe")
	if err != nil {
		t.Fatalf("LoadPeBytes: %v", err)
	}

	if pe.PeType != Pe32p {
		t.Errorf("PeType = %v, want Pe32p", pe.PeType)
	}
	if pe.ImageBase() != 0x140000000 {
		t.Errorf("ImageBase = 0x%x, want 0x140000000", pe.ImageBase())
	}
	if pe.EntryPoint() != 0x1000 {
		t.Errorf("EntryPoint = 0x%x, want 0x1000", pe.EntryPoint())
	}
	if len(pe.Sections) != 1 {
		t.Fatalf("len(Sections) = %d, want 1", len(pe.Sections))
	}
	if pe.Sections[0].Name != ".text" {
		t.Errorf("Sections[0].Name = %q, want \".text\"", pe.Sections[0].Name)
	}
	if pe.Sections[0].Characteristics&SectionMemExecute == 0 {
		t.Error("Sections[0] should be executable")
	}
}

func TestApiSetLookupPassesThroughUnknown(t *testing.T) {
	pe := &PeFile{Apisets: map[string][]string{}}
	if got := pe.ApiSetLookup("kernel32.dll"); got != "kernel32.dll" {
		t.Errorf("ApiSetLookup(kernel32.dll) = %q, want unchanged", got)
	}
}

func TestApiSetLookupResolvesKnownSet(t *testing.T) {
	pe := &PeFile{Apisets: map[string][]string{
		"api-ms-win-core-file-l1-1": {"kernelbase.dll"},
	}}
	if got := pe.ApiSetLookup("api-ms-win-core-file-l1-1-0.dll"); got != "kernelbase.dll" {
		t.Errorf("ApiSetLookup = %q, want kernelbase.dll", got)
	}
}
