package pefile

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

type apisetHeader63 struct {
	Version         uint32
	Size            uint32
	Sealed          uint32
	NumberOfApisets uint32
	NamesOffset     uint32
	TableOffset     uint32
	Multiplier      uint32
}

type apisetHeader6 struct {
	Version int32
	Count   int32
}

type apisetNameEntry struct {
	Sealed        uint32
	Offset        uint32
	Ignored       uint32
	Size          uint32
	HostOffset    uint32
	NumberOfHosts uint32
}

type apisetNameEntry2 struct {
	NameOffset int32
	NameLength int32
	DataOffset int32
}

type apisetValuesEntry2 struct {
	NameOffset  int32
	NameLength  int32
	ValueOffset int32
	ValueLength int32
}

type apisetValueEntry struct {
	Ignored     uint32
	NameOffset  uint32
	NameLength  uint32
	ValueOffset uint32
	ValueLength uint32
}

func utf16ToString(b []byte) string {
	units := make([]uint16, (len(b)+1)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units[i/2] = binary.LittleEndian.Uint16(b[i:])
	}
	if len(b)/2 < len(units) {
		units[len(units)-1] = utf8.RuneError
	}
	return string(utf16.Decode(units))
}

// ApiSetLookup resolves an api-ms-win-*.dll style virtual DLL name to its
// real host implementation, per the apiset schema map read from the
// .apiset section.
func (pe *PeFile) ApiSetLookup(name string) string {
	if len(name) < 4 || !strings.HasPrefix(name, "api-") {
		return name
	}
	key := name
	if len(name) > 6 {
		key = name[:len(name)-6]
	}
	hosts := pe.Apisets[key]
	if len(hosts) == 0 {
		return name
	}
	return hosts[len(hosts)-1]
}

func (pe *PeFile) readApiset() {
	var section *Section
	for _, s := range pe.Sections {
		if strings.TrimRight(s.Name, "\x00") == ".apiset" {
			section = s
			break
		}
	}
	if section == nil || len(section.Raw) < 4 {
		return
	}

	pe.Apisets = make(map[string][]string)
	version := binary.LittleEndian.Uint32(section.Raw[0:4])
	r := bytes.NewReader(section.Raw)

	if version >= 3 {
		pe.readApisetV6Plus(r, section)
	} else {
		pe.readApisetV6(r, section)
	}
}

func (pe *PeFile) readApisetV6Plus(r *bytes.Reader, section *Section) {
	header := apisetHeader63{}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return
	}

	for i := 0; i < int(header.NumberOfApisets); i++ {
		if _, err := r.Seek(int64(int(header.NamesOffset)+binary.Size(apisetNameEntry{})*i), io.SeekStart); err != nil {
			return
		}
		entry := apisetNameEntry{}
		if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
			return
		}

		name := utf16ToString(section.Raw[entry.Offset : entry.Offset+entry.Size])
		hosts := make([]string, 0, entry.NumberOfHosts)

		for j := 0; j < int(entry.NumberOfHosts); j++ {
			if _, err := r.Seek(int64(entry.HostOffset+uint32(binary.Size(apisetValueEntry{})*j)), io.SeekStart); err != nil {
				return
			}
			valueEntry := apisetValueEntry{}
			if err := binary.Read(r, binary.LittleEndian, &valueEntry); err != nil {
				return
			}
			hosts = append(hosts, utf16ToString(section.Raw[valueEntry.ValueOffset:valueEntry.ValueOffset+valueEntry.ValueLength]))
		}
		pe.Apisets[name] = hosts
	}
}

func (pe *PeFile) readApisetV6(r *bytes.Reader, section *Section) {
	header := apisetHeader6{}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return
	}

	loc := int64(binary.Size(apisetHeader6{}))
	for i := 0; i < int(header.Count); i++ {
		if _, err := r.Seek(loc, io.SeekStart); err != nil {
			return
		}
		entry := apisetNameEntry2{}
		if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
			return
		}
		loc += int64(binary.Size(apisetNameEntry2{}))

		name := strings.ToLower(utf16ToString(section.Raw[entry.NameOffset : entry.NameOffset+entry.NameLength]))
		name = strings.TrimSuffix(name, "\x00\x00")

		valuesCount := binary.LittleEndian.Uint32(section.Raw[entry.DataOffset : entry.DataOffset+4])
		if valuesCount == 0 {
			continue
		}

		if _, err := r.Seek(int64(entry.DataOffset)+4, io.SeekStart); err != nil {
			return
		}
		hosts := make([]string, 0, valuesCount)
		for j := 0; j < int(valuesCount); j++ {
			valueEntry := apisetValuesEntry2{}
			if err := binary.Read(r, binary.LittleEndian, &valueEntry); err != nil {
				return
			}
			hosts = append(hosts, utf16ToString(section.Raw[valueEntry.ValueOffset:valueEntry.ValueOffset+valueEntry.ValueLength]))
		}
		pe.Apisets[name] = hosts
	}
}
