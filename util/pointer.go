package util

import (
	"encoding/binary"

	"github.com/coldharbor/ntwine/memory"
)

// GetPointer reads a pointer-sized value at addr, honoring ptrSize (4 for
// a 32-bit guest, 8 for 64-bit).
func GetPointer(mem *memory.Manager, ptrSize, addr uint64, mode memory.AccessMode) (uint64, error) {
	buf, err := mem.Read(addr, ptrSize, mode)
	if err != nil {
		return 0, err
	}
	if ptrSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// PutPointer writes ptr as a ptrSize-wide little-endian value at addr.
func PutPointer(mem *memory.Manager, ptrSize, addr, ptr uint64, mode memory.AccessMode) error {
	buf := make([]byte, ptrSize)
	if ptrSize == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(ptr))
	} else {
		binary.LittleEndian.PutUint64(buf, ptr)
	}
	return mem.Write(addr, buf, mode)
}

// RoundUp rounds addr up to the next multiple of (mask+1), where mask is a
// power-of-two-minus-one alignment mask.
func RoundUp(addr, mask uint64) uint64 {
	return (addr + mask) &^ mask
}
