// Package util collects small helpers for moving strings and pointers
// between host and guest memory, walking the guest stack, and naming
// registers, shared by syscallapi's argument decoding and verbose logging.
package util

import (
	"encoding/binary"
	"strings"

	"github.com/coldharbor/ntwine/memory"
)

// maxStringScan bounds an unterminated string read so a corrupt or
// adversarial guest pointer can't force an unbounded scan.
const maxStringScan = 1 << 16

// ReadASCII reads a NUL-terminated 1-byte-per-character string starting at
// addr. max caps the scan length; 0 means maxStringScan. The terminator is
// not included in the result. A read past the end of mapped/readable
// memory simply ends the string at the last byte read.
func ReadASCII(mem *memory.Manager, addr uint64, max int, mode memory.AccessMode) string {
	if max == 0 {
		max = maxStringScan
	}
	var b strings.Builder
	for i := 0; i < max; i++ {
		buf, err := mem.Read(addr+uint64(i), 1, mode)
		if err != nil || buf[0] == 0 {
			break
		}
		b.WriteByte(buf[0])
	}
	return b.String()
}

// ReadWideChar reads a NUL-terminated UTF-16LE string, decoding it to a Go
// string on the fly. A valid surrogate pair is combined into one code
// point; an unpaired surrogate becomes U+FFFD in the result.
func ReadWideChar(mem *memory.Manager, addr uint64, max int, mode memory.AccessMode) string {
	if max == 0 {
		max = maxStringScan
	}
	units := make([]uint16, 0, 64)
	for i := 0; i < max; i++ {
		buf, err := mem.Read(addr+uint64(2*i), 2, mode)
		if err != nil {
			break
		}
		u := binary.LittleEndian.Uint16(buf)
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16Decode(units))
}

func utf16Decode(units []uint16) []rune {
	out := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		r := rune(units[i])
		if r >= 0xd800 && r <= 0xdbff && i+1 < len(units) {
			r2 := rune(units[i+1])
			if r2 >= 0xdc00 && r2 <= 0xdfff {
				out = append(out, ((r-0xd800)<<10|(r2-0xdc00))+0x10000)
				i++
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// WriteASCIIZ writes s to addr as a NUL-terminated 1-byte-per-character
// string, returning the number of bytes written including the terminator.
func WriteASCIIZ(mem *memory.Manager, addr uint64, s string, mode memory.AccessMode) (int, error) {
	buf := append([]byte(s), 0)
	if err := mem.Write(addr, buf, mode); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// WriteWideCharZ writes s to addr as a NUL-terminated UTF-16LE string,
// returning the byte count written including the terminator.
func WriteWideCharZ(mem *memory.Manager, addr uint64, s string, mode memory.AccessMode) (int, error) {
	runes := []rune(s)
	buf := make([]byte, 0, 2*(len(runes)+1))
	for _, r := range runes {
		if r > 0xffff {
			r -= 0x10000
			hi := uint16(0xd800 + (r >> 10))
			lo := uint16(0xdc00 + (r & 0x3ff))
			var tmp [2]byte
			binary.LittleEndian.PutUint16(tmp[:], hi)
			buf = append(buf, tmp[:]...)
			binary.LittleEndian.PutUint16(tmp[:], lo)
			buf = append(buf, tmp[:]...)
			continue
		}
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(r))
		buf = append(buf, tmp[:]...)
	}
	buf = append(buf, 0, 0)
	if err := mem.Write(addr, buf, mode); err != nil {
		return 0, err
	}
	return len(buf), nil
}
